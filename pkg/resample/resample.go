// Package resample rescales volumes to a target physical resolution.
//
// Intensity data is interpolated with natural cubic splines fitted per
// grid line, while label data always uses nearest-neighbor lookup:
// smoothing integer class codes would invent intermediate classes that
// exist in no annotation, so the two policies must never be mixed.
package resample

import (
	"math"

	"gonum.org/v1/gonum/interp"

	"volcrop/pkg/volume"
)

// Factors are the per-axis zoom factors in (Z, Y, X) order. A factor of 1
// leaves the axis unchanged; 0.5 halves it.
type Factors [3]float64

// ZoomFactors derives the factors that bring a volume with the given
// native z spacing (mm per slice) to a target slice thickness and
// in-plane scale.
func ZoomFactors(nativeSpacingZ, sliceSizeMM, scale float64) Factors {
	return Factors{nativeSpacingZ / sliceSizeMM, scale, scale}
}

// Identity reports whether applying the factors would be a no-op.
func (f Factors) Identity() bool {
	return f[0] == 1 && f[1] == 1 && f[2] == 1
}

// outLen mirrors the rounding used when an array axis is zoomed: the new
// length is the old one scaled and rounded to the nearest integer, never
// below 1 for a non-empty axis.
func outLen(n int, factor float64) int {
	if n == 0 {
		return 0
	}
	out := int(math.Round(float64(n) * factor))
	if out < 1 {
		out = 1
	}
	return out
}

// Zoom resamples an intensity volume by the given factors using cubic
// interpolation, applied separably one axis at a time. The voxel spacing
// of the result is adjusted to preserve physical extent; other metadata is
// inherited. The identity factors return the input untouched.
func Zoom(v *volume.Volume, f Factors) *volume.Volume {
	if f.Identity() {
		return v
	}

	data, dims := v.Data, v.Dims
	for axis := 2; axis >= 0; axis-- {
		if f[axis] != 1 {
			data, dims = resampleAxis(data, dims, axis, f[axis], sampleCubic)
		}
	}

	out := &volume.Volume{
		Data:      data,
		Dims:      dims,
		Spacing:   v.Spacing,
		Origin:    v.Origin,
		Direction: v.Direction,
	}
	// Spacing is indexed (X, Y, Z) while factors are (Z, Y, X).
	for axis := 0; axis < 3; axis++ {
		if f[axis] != 1 {
			out.Spacing[2-axis] = v.Spacing[2-axis] / f[axis]
		}
	}
	return out
}

// ZoomLabels resamples a label volume by the given factors using
// nearest-neighbor lookup, preserving the exact set of class codes.
func ZoomLabels(l *volume.LabelVolume, f Factors) *volume.LabelVolume {
	if f.Identity() {
		return l
	}

	dims := l.Dims
	out := volume.NewLabelVolume(volume.Dims{
		Z: outLen(dims.Z, f[0]),
		Y: outLen(dims.Y, f[1]),
		X: outLen(dims.X, f[2]),
	})

	for z := 0; z < out.Dims.Z; z++ {
		sz := nearestIndex(z, f[0], dims.Z)
		for y := 0; y < out.Dims.Y; y++ {
			sy := nearestIndex(y, f[1], dims.Y)
			srcRow := (sz*dims.Y + sy) * dims.X
			dstRow := (z*out.Dims.Y + y) * out.Dims.X
			for x := 0; x < out.Dims.X; x++ {
				out.Data[dstRow+x] = l.Data[srcRow+nearestIndex(x, f[2], dims.X)]
			}
		}
	}
	return out
}

// nearestIndex maps an output index back to its nearest source index.
func nearestIndex(i int, factor float64, n int) int {
	src := int(math.Round(float64(i) / factor))
	if src < 0 {
		return 0
	}
	if src >= n {
		return n - 1
	}
	return src
}

// sampler evaluates one resampled grid line: given the source samples of a
// line, it fills dst with values taken at source coordinate i/factor for
// each destination index i.
type sampler func(src, dst []float64, factor float64)

// resampleAxis rescales one axis of a flat (z, y, x) array by gathering
// every grid line along that axis, resampling it, and scattering the
// result into the output array.
func resampleAxis(data []float64, dims volume.Dims, axis int, factor float64, sample sampler) ([]float64, volume.Dims) {
	n := dims.Axis(axis)
	m := outLen(n, factor)

	outDims := dims
	switch axis {
	case 0:
		outDims.Z = m
	case 1:
		outDims.Y = m
	default:
		outDims.X = m
	}
	out := make([]float64, outDims.Len())

	// Strides of the resampled axis and the two fixed axes in the source
	// and destination arrays.
	strideOf := func(d volume.Dims, a int) int {
		switch a {
		case 0:
			return d.Y * d.X
		case 1:
			return d.X
		default:
			return 1
		}
	}
	srcStride := strideOf(dims, axis)
	dstStride := strideOf(outDims, axis)

	fixed := [2]int{}
	switch axis {
	case 0:
		fixed = [2]int{1, 2}
	case 1:
		fixed = [2]int{0, 2}
	default:
		fixed = [2]int{0, 1}
	}

	src := make([]float64, n)
	dst := make([]float64, m)

	for a := 0; a < dims.Axis(fixed[0]); a++ {
		for b := 0; b < dims.Axis(fixed[1]); b++ {
			srcBase := a*strideOf(dims, fixed[0]) + b*strideOf(dims, fixed[1])
			dstBase := a*strideOf(outDims, fixed[0]) + b*strideOf(outDims, fixed[1])

			for i := 0; i < n; i++ {
				src[i] = data[srcBase+i*srcStride]
			}
			sample(src, dst, factor)
			for i := 0; i < m; i++ {
				out[dstBase+i*dstStride] = dst[i]
			}
		}
	}
	return out, outDims
}

// sampleCubic resamples one grid line with a natural cubic spline through
// the source samples. Lines too short to fit a spline degrade to constant
// lookup.
func sampleCubic(src, dst []float64, factor float64) {
	n := len(src)
	if n == 1 {
		for i := range dst {
			dst[i] = src[0]
		}
		return
	}

	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	var spline interp.NaturalCubic
	if err := spline.Fit(xs, src); err != nil {
		// Fit only fails on malformed inputs, which the fixed grid
		// coordinates rule out; fall back to nearest lookup regardless.
		for i := range dst {
			dst[i] = src[nearestIndex(i, factor, n)]
		}
		return
	}

	max := float64(n - 1)
	for i := range dst {
		x := float64(i) / factor
		if x < 0 {
			x = 0
		} else if x > max {
			x = max
		}
		dst[i] = spline.Predict(x)
	}
}
