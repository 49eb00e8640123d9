package blob

import (
	"fmt"

	"volcrop/pkg/volume"
)

// Params configures blob extraction around one target label.
type Params struct {
	// Label is the anatomical class whose connected components are
	// cropped around.
	Label int32 `yaml:"label"`

	// Margins is the padding in voxels added around each accepted blob's
	// tight bounding box, per (Z, Y, X) axis.
	Margins [3]int `yaml:"margins"`

	// AllowedOtherFraction is the tolerated fraction of a tight box
	// occupied by voxels of other components, in [0, 1]. Blobs above the
	// threshold are skipped.
	AllowedOtherFraction float64 `yaml:"allowedOtherFraction"`

	// MaskDilation is the number of binary dilation iterations applied to
	// the label mask before component labeling. Larger values bridge
	// bigger gaps inside a structure.
	MaskDilation int `yaml:"maskDilation"`
}

// Validate reports configuration errors. These are programmer errors to
// catch at construction time, never during per-volume processing.
func (p Params) Validate() error {
	if p.Label <= 0 {
		return fmt.Errorf("cropping label must be positive, got %d", p.Label)
	}
	if p.AllowedOtherFraction < 0 || p.AllowedOtherFraction > 1 {
		return fmt.Errorf("allowed other-blob fraction must be in [0, 1], got %v", p.AllowedOtherFraction)
	}
	for i, m := range p.Margins {
		if m < 0 {
			return fmt.Errorf("margin for axis %d must be non-negative, got %d", i, m)
		}
	}
	if p.MaskDilation < 0 {
		return fmt.Errorf("mask dilation must be non-negative, got %d", p.MaskDilation)
	}
	return nil
}

// String encodes the parameters for use in dataset directory names, e.g.
// "[CL-2_margins-(1, 20, 20)_OB-0.5_MD-0]".
func (p Params) String() string {
	return fmt.Sprintf("[CL-%d_margins-(%d, %d, %d)_OB-%v_MD-%d]",
		p.Label, p.Margins[0], p.Margins[1], p.Margins[2], p.AllowedOtherFraction, p.MaskDilation)
}

// Crop is one extracted region: matching CT and label sub-arrays plus the
// location tag that keeps its output filename distinct from sibling crops
// of the same source volume.
type Crop struct {
	CT     *volume.Volume
	Labels *volume.LabelVolume
	Tag    string
}

// ExtractCrops finds connected components of the target label and returns
// a margin-padded crop for each component whose bounding box is not overly
// contaminated by voxels of other components. Rejections are silent policy
// outcomes, not errors. The input volumes are never modified.
func ExtractCrops(ct *volume.Volume, labels *volume.LabelVolume, p Params) []Crop {
	dims := labels.Dims

	mask := make([]bool, dims.Len())
	for i, val := range labels.Data {
		mask[i] = val == p.Label
	}
	mask = Dilate(mask, dims, p.MaskDilation)

	labeling := LabelComponents(mask, dims)

	var crops []Crop
	for _, b := range labeling.Blobs() {
		if labeling.Contamination(b) > p.AllowedOtherFraction {
			continue
		}

		box := b.Bounds.Expand(p.Margins, dims)
		crops = append(crops, Crop{
			CT:     ct.Crop(box),
			Labels: labels.Crop(box),
			Tag:    box.LocationTag(),
		})
	}
	return crops
}
