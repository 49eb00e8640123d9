package preprocess

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"volcrop/pkg/nifti"
	"volcrop/pkg/resample"
	"volcrop/pkg/volume"
)

// BuildNormalizedDataset runs the whole-volume mode: every pair is
// resampled to the target slice thickness and in-plane subsample, cut down
// along the depth axis to the labeled region plus padding, and written
// back out as NIfTI with its updated spacing. Volumes whose labeled region
// is too shallow are skipped silently.
func (b *Builder) BuildNormalizedDataset() (*Summary, error) {
	outDir := b.cfg.NormalizedDatasetDir()
	ctDir := filepath.Join(outDir, "ct")
	segDir := filepath.Join(outDir, "seg")
	for _, dir := range []string{ctDir, segDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	sources, err := b.listSources()
	if err != nil {
		return nil, err
	}

	b.log.Info().
		Int("volumes", len(sources)).
		Int("cores", b.cfg.Processing.NumCores).
		Str("output", outDir).
		Msg("building normalized dataset")

	start := time.Now()
	summary := b.run(sources, func(name string) Result {
		return b.normalizeVolume(name, ctDir, segDir)
	})
	b.logSummary(summary, time.Since(start))
	return summary, nil
}

// normalizeVolume resamples one pair and restricts it to the labeled
// depth range.
func (b *Builder) normalizeVolume(ctName, ctDir, segDir string) Result {
	res := Result{Source: ctName}

	ct, seg, err := b.loadPair(ctName)
	if err != nil {
		b.log.Error().Err(err).Str("source", ctName).Msg("volume failed")
		res.Err = err
		return res
	}
	b.recordSpacing(ct)

	sub := b.cfg.Normalized.SpatialSubsample
	factors := resample.ZoomFactors(ct.Spacing[2], b.cfg.Processing.SliceSizeMM, sub)
	ct = resample.Zoom(ct, factors)
	seg = resample.ZoomLabels(seg, factors)

	start, stop, ok := seg.ZExtent()
	if !ok {
		b.log.Warn().Str("source", ctName).Msg("volume has no labeled voxels, skipped")
		return res
	}
	box := volume.NewBoundingBox(ct.Dims,
		[3]int{start - b.cfg.Normalized.ExpandSlices, 0, 0},
		[3]int{stop + b.cfg.Normalized.ExpandSlices, ct.Dims.Y, ct.Dims.X})
	if box.Shape().Z < b.cfg.Normalized.MinDepth {
		if b.cfg.Output.Verbose {
			b.log.Debug().Str("source", ctName).Int("depth", box.Shape().Z).
				Msg("labeled region too shallow, dropped")
		}
		return res
	}

	ct = ct.Crop(box)
	segCropped := seg.Crop(box)

	if err := nifti.WriteVolume(filepath.Join(ctDir, ctName), ct); err != nil {
		res.Err = err
		return res
	}
	if err := nifti.WriteLabelVolume(filepath.Join(segDir, segFileName(ctName)), segCropped, ct); err != nil {
		res.Err = err
		return res
	}
	res.Crops = 1

	b.log.Info().Str("source", ctName).Stringer("shape", ct.Dims).Msg("volume normalized")
	return res
}
