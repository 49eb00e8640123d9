package resample

import (
	"math"
	"testing"

	"volcrop/pkg/volume"
)

func TestZoomFactors(t *testing.T) {
	f := ZoomFactors(2.5, 1, 0.5)
	want := Factors{2.5, 0.5, 0.5}
	if f != want {
		t.Errorf("factors = %v, want %v", f, want)
	}
	if !ZoomFactors(1, 1, 1).Identity() {
		t.Error("unit factors should be the identity")
	}
}

// TestZoomIdentity verifies that identity factors skip resampling entirely
func TestZoomIdentity(t *testing.T) {
	v := volume.NewVolume(volume.Dims{Z: 2, Y: 3, X: 4})
	if out := Zoom(v, Factors{1, 1, 1}); out != v {
		t.Error("identity zoom should return the input volume")
	}

	l := volume.NewLabelVolume(volume.Dims{Z: 2, Y: 3, X: 4})
	if out := ZoomLabels(l, Factors{1, 1, 1}); out != l {
		t.Error("identity zoom should return the input labels")
	}
}

// TestZoomShapes verifies the rounded output dimensions
func TestZoomShapes(t *testing.T) {
	v := volume.NewVolume(volume.Dims{Z: 5, Y: 10, X: 10})
	out := Zoom(v, Factors{2, 0.5, 0.5})
	want := volume.Dims{Z: 10, Y: 5, X: 5}
	if out.Dims != want {
		t.Errorf("zoomed shape = %v, want %v", out.Dims, want)
	}
}

// TestZoomSpacing verifies that physical spacing follows the zoom
func TestZoomSpacing(t *testing.T) {
	v := volume.NewVolume(volume.Dims{Z: 4, Y: 8, X: 8})
	v.Spacing = [3]float64{0.8, 0.8, 2}

	out := Zoom(v, Factors{2, 0.5, 0.5})

	want := [3]float64{1.6, 1.6, 1}
	for i := range want {
		if math.Abs(out.Spacing[i]-want[i]) > 1e-12 {
			t.Errorf("spacing[%d] = %v, want %v", i, out.Spacing[i], want[i])
		}
	}
}

// TestZoomLinearRamp checks that cubic interpolation reproduces a linear
// intensity ramp exactly at the interior sample points.
func TestZoomLinearRamp(t *testing.T) {
	dims := volume.Dims{Z: 1, Y: 1, X: 5}
	v := volume.NewVolume(dims)
	for x := 0; x < dims.X; x++ {
		v.Set(0, 0, x, float64(x))
	}

	out := Zoom(v, Factors{1, 1, 2})
	if out.Dims.X != 10 {
		t.Fatalf("output length = %d, want 10", out.Dims.X)
	}
	for i := 0; i <= 8; i++ {
		want := float64(i) / 2
		if got := out.At(0, 0, i); math.Abs(got-want) > 1e-9 {
			t.Errorf("sample %d = %v, want %v", i, got, want)
		}
	}
}

// TestZoomLabelsNearest verifies that label downsampling never invents
// class codes.
func TestZoomLabelsNearest(t *testing.T) {
	dims := volume.Dims{Z: 4, Y: 10, X: 10}
	l := volume.NewLabelVolume(dims)
	for z := 0; z < dims.Z; z++ {
		for y := 0; y < dims.Y; y++ {
			for x := 0; x < dims.X; x++ {
				if y >= 5 {
					l.Set(z, y, x, 2)
				}
			}
		}
	}

	out := ZoomLabels(l, Factors{1, 0.5, 0.5})
	if out.Dims != (volume.Dims{Z: 4, Y: 5, X: 5}) {
		t.Fatalf("zoomed label shape = %v", out.Dims)
	}
	for _, v := range out.Data {
		if v != 0 && v != 2 {
			t.Fatalf("invented label %d", v)
		}
	}

	// Both classes must survive a halving of a half-and-half volume.
	seen := map[int32]bool{}
	for _, v := range out.Data {
		seen[v] = true
	}
	if !seen[0] || !seen[2] {
		t.Errorf("expected both classes to survive, got %v", seen)
	}
}

// TestZoomSingleSliceAxis verifies the constant fallback for axes too
// short to interpolate.
func TestZoomSingleSliceAxis(t *testing.T) {
	dims := volume.Dims{Z: 1, Y: 2, X: 2}
	v := volume.NewVolume(dims)
	for i := range v.Data {
		v.Data[i] = 7
	}

	out := Zoom(v, Factors{3, 1, 1})
	if out.Dims.Z != 3 {
		t.Fatalf("output depth = %d, want 3", out.Dims.Z)
	}
	for i, val := range out.Data {
		if val != 7 {
			t.Errorf("voxel %d = %v, want 7", i, val)
		}
	}
}
