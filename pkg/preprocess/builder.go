// Package preprocess drives the dataset preparation pipeline: it walks a
// directory of paired CT / segmentation volumes and, per volume, loads and
// clips the pair, extracts margin-padded crops around connected blobs of
// the target label, remaps labels, resamples to the target physical scale,
// drops undersized results and persists the survivors as .npy array pairs.
//
// Volumes are independent of each other, so the driver fans out across
// them with a bounded worker group. A failing volume is recorded and
// reported at the end of the run; it never aborts the batch.
package preprocess

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"volcrop/pkg/blob"
	"volcrop/pkg/config"
	"volcrop/pkg/nifti"
	"volcrop/pkg/npy"
	"volcrop/pkg/resample"
	"volcrop/pkg/volume"
)

// Result is the per-volume outcome: how many crops the volume yielded, or
// the error that prevented processing it.
type Result struct {
	// Source is the CT filename the result belongs to.
	Source string

	// Crops is the number of persisted crops.
	Crops int

	// Err is set when the volume could not be processed, e.g. on a
	// CT/label shape mismatch. Policy rejections (contaminated blobs,
	// undersized crops) are not errors and leave Err nil.
	Err error
}

// Summary aggregates a whole run.
type Summary struct {
	// Volumes is the number of source volumes visited.
	Volumes int

	// Crops is the total number of persisted crops.
	Crops int

	// Failed is the number of volumes that could not be processed.
	Failed int

	// MeanSpacingZ is the mean native z spacing in mm over all loaded
	// volumes, kept for reporting only.
	MeanSpacingZ float64

	// BytesWritten is the total size of all persisted arrays.
	BytesWritten int64

	// Results holds the per-volume outcomes in source order.
	Results []Result
}

// Builder runs the preprocessing pipeline for one configuration.
type Builder struct {
	cfg *config.Config
	log zerolog.Logger

	mu       sync.Mutex
	spacings []float64
	written  int64
}

// NewBuilder creates a builder for the given configuration. The
// configuration must already be validated.
func NewBuilder(cfg *config.Config, log zerolog.Logger) *Builder {
	return &Builder{cfg: cfg, log: log}
}

// listSources returns the CT filenames under <root>/ct in sorted order.
func (b *Builder) listSources() ([]string, error) {
	ctDir := filepath.Join(b.cfg.Data.RootDir, "ct")
	entries, err := os.ReadDir(ctDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read CT directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".nii") || strings.HasSuffix(name, ".nii.gz") {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no NIfTI volumes found in %s", ctDir)
	}
	sort.Strings(names)
	return names, nil
}

// segFileName derives the label filename paired with a CT filename by the
// dataset's naming convention.
func segFileName(ctName string) string {
	return strings.Replace(ctName, "volume", "segmentation", 1)
}

// baseName strips the NIfTI extension from a filename.
func baseName(name string) string {
	name = strings.TrimSuffix(name, ".gz")
	return strings.TrimSuffix(name, ".nii")
}

// loadPair reads a CT volume and its matching label volume, validates that
// their shapes agree and clips the CT intensities to the fixed dynamic
// range. A shape mismatch is fatal for the pair.
func (b *Builder) loadPair(ctName string) (*volume.Volume, *volume.LabelVolume, error) {
	ct, err := nifti.ReadVolume(filepath.Join(b.cfg.Data.RootDir, "ct", ctName))
	if err != nil {
		return nil, nil, err
	}
	seg, err := nifti.ReadLabelVolume(filepath.Join(b.cfg.Data.RootDir, "seg", segFileName(ctName)))
	if err != nil {
		return nil, nil, err
	}
	if ct.Dims != seg.Dims {
		return nil, nil, fmt.Errorf("%s: CT shape %v does not match label shape %v",
			ctName, ct.Dims, seg.Dims)
	}

	ct.Clip(volume.IntensityMin, volume.IntensityMax)
	return ct, seg, nil
}

// recordSpacing keeps a volume's native z spacing for the run summary.
func (b *Builder) recordSpacing(ct *volume.Volume) {
	b.mu.Lock()
	b.spacings = append(b.spacings, ct.Spacing[2])
	b.mu.Unlock()
}

func (b *Builder) addWritten(n int64) {
	b.mu.Lock()
	b.written += n
	b.mu.Unlock()
}

// run fans the per-volume worker out over all sources with the configured
// parallelism and assembles the run summary.
func (b *Builder) run(sources []string, process func(name string) Result) *Summary {
	results := make([]Result, len(sources))

	var g errgroup.Group
	g.SetLimit(b.cfg.Processing.NumCores)
	for i, name := range sources {
		i, name := i, name
		g.Go(func() error {
			results[i] = process(name)
			return nil
		})
	}
	// Workers report failures through their Result; none returns an error.
	_ = g.Wait()

	summary := &Summary{Volumes: len(sources), Results: results}
	for _, res := range results {
		if res.Err != nil {
			summary.Failed++
			continue
		}
		summary.Crops += res.Crops
	}
	if len(b.spacings) > 0 {
		summary.MeanSpacingZ = stat.Mean(b.spacings, nil)
	}
	summary.BytesWritten = b.written
	return summary
}

// BuildCropDataset runs the crop-dataset mode: blob crops when cropping is
// enabled, whole volumes otherwise, persisted as .npy pairs under the
// configuration-derived directory.
func (b *Builder) BuildCropDataset() (*Summary, error) {
	outDir := b.cfg.CropDatasetDir()
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
		Msg("building crop dataset")

	start := time.Now()
	summary := b.run(sources, func(name string) Result {
		return b.processVolume(name, ctDir, segDir)
	})
	b.logSummary(summary, time.Since(start))
	return summary, nil
}

// processVolume runs the full pipeline for one CT/label pair.
func (b *Builder) processVolume(ctName, ctDir, segDir string) Result {
	res := Result{Source: ctName}

	ct, seg, err := b.loadPair(ctName)
	if err != nil {
		b.log.Error().Err(err).Str("source", ctName).Msg("volume failed")
		res.Err = err
		return res
	}
	b.recordSpacing(ct)

	var crops []blob.Crop
	if b.cfg.Cropping.Enabled {
		crops = blob.ExtractCrops(ct, seg, b.cfg.Cropping.Params)
	} else {
		crops = []blob.Crop{{CT: ct, Labels: seg}}
	}

	factors := resample.ZoomFactors(ct.Spacing[2], b.cfg.Processing.SliceSizeMM, b.cfg.Processing.SpatialScale)
	base := baseName(ctName)
	used := make(map[string]bool)

	for idx, crop := range crops {
		if b.cfg.Processing.RemoveLiverLabel {
			crop.Labels.RemoveLiverLabel()
		}

		ctArr := resample.Zoom(crop.CT, factors)
		segArr := resample.ZoomLabels(crop.Labels, factors)

		if undersized(ctArr.Dims, b.cfg.Processing.MinSizes) {
			if b.cfg.Output.Verbose {
				b.log.Debug().Str("source", ctName).Stringer("shape", ctArr.Dims).
					Msg("crop below minimum size, dropped")
			}
			continue
		}

		fname := cropFileName(base, crop.Tag, idx, used)
		n, err := npy.WriteVolume(filepath.Join(ctDir, fname), ctArr)
		if err != nil {
			res.Err = err
			return res
		}
		b.addWritten(n)
		n, err = npy.WriteLabels(filepath.Join(segDir, segFileName(fname)), segArr)
		if err != nil {
			res.Err = err
			return res
		}
		b.addWritten(n)
		res.Crops++

		if b.cfg.Output.SavePreviews {
			preview := strings.TrimSuffix(fname, ".npy") + ".jpg"
			if err := savePreview(filepath.Join(ctDir, preview), ctArr); err != nil {
				b.log.Warn().Err(err).Str("source", ctName).Msg("failed to save preview")
			}
		}
	}

	b.log.Info().Str("source", ctName).Int("crops", res.Crops).Msg("volume processed")
	return res
}

// cropFileName builds the output filename for one crop. Blob crops are
// disambiguated by the location tag of their margined box, whole volumes
// by their index. Two same-sized boxes share a tag, so a colliding name
// additionally carries the crop index; names never silently overwrite.
func cropFileName(base, tag string, idx int, used map[string]bool) string {
	var name string
	if tag != "" {
		name = fmt.Sprintf("%s-(%s).npy", base, tag)
		if used[name] {
			name = fmt.Sprintf("%s-(%s)-%d.npy", base, tag, idx)
		}
	} else {
		name = fmt.Sprintf("%s-%d.npy", base, idx)
	}
	used[name] = true
	return name
}

// undersized reports whether any axis falls below the configured minimum.
func undersized(d volume.Dims, minSizes [3]int) bool {
	return d.Z < minSizes[0] || d.Y < minSizes[1] || d.X < minSizes[2]
}

func (b *Builder) logSummary(s *Summary, elapsed time.Duration) {
	for _, res := range s.Results {
		if res.Err != nil {
			b.log.Warn().Str("source", res.Source).Err(res.Err).Msg("volume skipped")
		}
	}
	b.log.Info().
		Int("volumes", s.Volumes).
		Int("failed", s.Failed).
		Int("crops", s.Crops).
		Float64("meanSpacingZ", s.MeanSpacingZ).
		Str("written", humanize.Bytes(uint64(s.BytesWritten))).
		Dur("elapsed", elapsed).
		Msg("done")
}
