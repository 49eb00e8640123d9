// Package volume provides the dense 3D array types shared by the whole
// pipeline: CT intensity volumes, integer label volumes and the axis-aligned
// bounding boxes used to cut crops out of them.
//
// Arrays are stored flat in (depth, height, width) order with the width axis
// fastest, matching the memory layout produced when a medical image is read
// slice by slice.
package volume

import (
	"fmt"
)

// Intensity clamping range applied to every CT volume after loading.
// Values outside this window (air, dense bone, metal) carry no useful
// soft-tissue signal for segmentation training.
const (
	IntensityMin = -512
	IntensityMax = 512
)

// Dims holds the voxel counts of a volume per axis in (Z, Y, X) order,
// i.e. (depth, height, width).
type Dims struct {
	Z, Y, X int
}

// Len returns the total number of voxels.
func (d Dims) Len() int {
	return d.Z * d.Y * d.X
}

// Axis returns the length of axis i, with axes numbered Z=0, Y=1, X=2.
func (d Dims) Axis(i int) int {
	switch i {
	case 0:
		return d.Z
	case 1:
		return d.Y
	default:
		return d.X
	}
}

// String formats the dimensions the way shapes appear in filenames and
// logs: "(Z, Y, X)".
func (d Dims) String() string {
	return fmt.Sprintf("(%d, %d, %d)", d.Z, d.Y, d.X)
}

// Volume is a dense 3D CT intensity array together with the physical
// metadata inherited from the source scan.
type Volume struct {
	// Data is the intensity data as a flat array in (z, y, x) order.
	Data []float64

	// Dims are the voxel counts per axis.
	Dims Dims

	// Spacing is the physical voxel size in mm per world axis (X, Y, Z).
	Spacing [3]float64

	// Origin is the world coordinate of the first voxel in mm (X, Y, Z).
	Origin [3]float64

	// Direction holds the row-major 3x3 direction cosine matrix mapping
	// voxel axes to world axes.
	Direction [9]float64
}

// NewVolume allocates a zero-filled volume with identity orientation and
// unit spacing.
func NewVolume(dims Dims) *Volume {
	return &Volume{
		Data:      make([]float64, dims.Len()),
		Dims:      dims,
		Spacing:   [3]float64{1, 1, 1},
		Direction: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
	}
}

// Idx converts a (z, y, x) voxel coordinate to a flat index.
func (v *Volume) Idx(z, y, x int) int {
	return (z*v.Dims.Y+y)*v.Dims.X + x
}

// At returns the intensity at voxel (z, y, x).
func (v *Volume) At(z, y, x int) float64 {
	return v.Data[(z*v.Dims.Y+y)*v.Dims.X+x]
}

// Set stores an intensity at voxel (z, y, x).
func (v *Volume) Set(z, y, x int, value float64) {
	v.Data[(z*v.Dims.Y+y)*v.Dims.X+x] = value
}

// Clip clamps every voxel to [lo, hi] in place and returns the volume.
func (v *Volume) Clip(lo, hi float64) *Volume {
	for i, val := range v.Data {
		if val < lo {
			v.Data[i] = lo
		} else if val > hi {
			v.Data[i] = hi
		}
	}
	return v
}

// Crop returns a copy of the sub-volume bounded by box. The physical
// metadata of the parent is inherited unchanged.
func (v *Volume) Crop(box BoundingBox) *Volume {
	out := &Volume{
		Data:      make([]float64, box.Shape().Len()),
		Dims:      box.Shape(),
		Spacing:   v.Spacing,
		Origin:    v.Origin,
		Direction: v.Direction,
	}
	i := 0
	for z := box[0].Start; z < box[0].Stop; z++ {
		for y := box[1].Start; y < box[1].Stop; y++ {
			row := v.Idx(z, y, box[2].Start)
			i += copy(out.Data[i:], v.Data[row:row+box[2].Len()])
		}
	}
	return out
}

// LabelVolume is a dense 3D array of anatomical class codes paired with a
// Volume of identical shape. Zero is background; positive values are
// mutually exclusive classes.
type LabelVolume struct {
	// Data is the label data as a flat array in (z, y, x) order.
	Data []int32

	// Dims are the voxel counts per axis.
	Dims Dims
}

// NewLabelVolume allocates a background-filled label volume.
func NewLabelVolume(dims Dims) *LabelVolume {
	return &LabelVolume{
		Data: make([]int32, dims.Len()),
		Dims: dims,
	}
}

// At returns the label at voxel (z, y, x).
func (l *LabelVolume) At(z, y, x int) int32 {
	return l.Data[(z*l.Dims.Y+y)*l.Dims.X+x]
}

// Set stores a label at voxel (z, y, x).
func (l *LabelVolume) Set(z, y, x int, label int32) {
	l.Data[(z*l.Dims.Y+y)*l.Dims.X+x] = label
}

// Crop returns a copy of the label sub-volume bounded by box.
func (l *LabelVolume) Crop(box BoundingBox) *LabelVolume {
	out := NewLabelVolume(box.Shape())
	i := 0
	for z := box[0].Start; z < box[0].Stop; z++ {
		for y := box[1].Start; y < box[1].Stop; y++ {
			row := (z*l.Dims.Y+y)*l.Dims.X + box[2].Start
			i += copy(out.Data[i:], l.Data[row:row+box[2].Len()])
		}
	}
	return out
}

// RemoveLiverLabel merges the liver class into the background and promotes
// the tumor class in its place: label 1 becomes 0 and label 2 becomes 1.
// The remap runs in place.
func (l *LabelVolume) RemoveLiverLabel() {
	for i, val := range l.Data {
		switch val {
		case 1:
			l.Data[i] = 0
		case 2:
			l.Data[i] = 1
		}
	}
}

// ZExtent returns the half-open range of depth slices containing at least
// one foreground voxel. ok is false when the volume is entirely background.
func (l *LabelVolume) ZExtent() (start, stop int, ok bool) {
	sliceLen := l.Dims.Y * l.Dims.X
	first, last := -1, -1
	for z := 0; z < l.Dims.Z; z++ {
		base := z * sliceLen
		for i := base; i < base+sliceLen; i++ {
			if l.Data[i] != 0 {
				if first < 0 {
					first = z
				}
				last = z
				break
			}
		}
	}
	if first < 0 {
		return 0, 0, false
	}
	return first, last + 1, true
}
