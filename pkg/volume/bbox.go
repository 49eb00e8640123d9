package volume

import (
	"fmt"
	"strings"
)

// Interval is a half-open index range [Start, Stop) along one axis.
type Interval struct {
	Start, Stop int
}

// Len returns the number of indices covered by the interval.
func (iv Interval) Len() int {
	return iv.Stop - iv.Start
}

// BoundingBox is an axis-aligned box of half-open intervals in
// (Z, Y, X) order. Boxes are always constructed clamped to the owning
// volume's extent, so slicing with one can never read out of bounds.
type BoundingBox [3]Interval

// NewBoundingBox builds a box from inclusive lower and exclusive upper
// voxel coordinates, clamping both ends of every axis to [0, dim).
func NewBoundingBox(dims Dims, lo, hi [3]int) BoundingBox {
	var box BoundingBox
	for i := range box {
		start, stop := lo[i], hi[i]
		if start < 0 {
			start = 0
		}
		if max := dims.Axis(i); stop > max {
			stop = max
		}
		if stop < start {
			stop = start
		}
		box[i] = Interval{Start: start, Stop: stop}
	}
	return box
}

// Expand grows the box by a non-negative margin per axis, clamped to the
// volume extent. Zero margins return the box unchanged.
func (b BoundingBox) Expand(margins [3]int, dims Dims) BoundingBox {
	lo := [3]int{b[0].Start - margins[0], b[1].Start - margins[1], b[2].Start - margins[2]}
	hi := [3]int{b[0].Stop + margins[0], b[1].Stop + margins[1], b[2].Stop + margins[2]}
	return NewBoundingBox(dims, lo, hi)
}

// Shape returns the dimensions of the sub-volume covered by the box.
func (b BoundingBox) Shape() Dims {
	return Dims{Z: b[0].Len(), Y: b[1].Len(), X: b[2].Len()}
}

// Empty reports whether any axis of the box covers no voxels.
func (b BoundingBox) Empty() bool {
	return b[0].Len() <= 0 || b[1].Len() <= 0 || b[2].Len() <= 0
}

// LocationTag encodes the per-axis half-extent of the box as a string such
// as "6-7-7". The tag disambiguates output filenames when one source
// volume yields several crops; it is derived from the box size, not from a
// position in the parent volume.
func (b BoundingBox) LocationTag() string {
	parts := make([]string, len(b))
	for i, iv := range b {
		parts[i] = fmt.Sprintf("%d", iv.Len()/2)
	}
	return strings.Join(parts, "-")
}

// String formats the box as Python-style slice ranges, e.g.
// "[9:21, 28:42, 28:42]".
func (b BoundingBox) String() string {
	return fmt.Sprintf("[%d:%d, %d:%d, %d:%d]",
		b[0].Start, b[0].Stop, b[1].Start, b[1].Stop, b[2].Start, b[2].Stop)
}
