package volume

import (
	"testing"
)

// TestClip verifies intensity clamping to the CT dynamic range
func TestClip(t *testing.T) {
	v := NewVolume(Dims{Z: 1, Y: 1, X: 5})
	copy(v.Data, []float64{-2000, -512, 0, 512, 3000})

	v.Clip(IntensityMin, IntensityMax)

	want := []float64{-512, -512, 0, 512, 512}
	for i, w := range want {
		if v.Data[i] != w {
			t.Errorf("voxel %d: got %v, want %v", i, v.Data[i], w)
		}
	}
}

// TestRemoveLiverLabel verifies the label 1 -> 0, label 2 -> 1 remap
func TestRemoveLiverLabel(t *testing.T) {
	l := NewLabelVolume(Dims{Z: 1, Y: 2, X: 3})
	copy(l.Data, []int32{0, 1, 2, 2, 1, 0})

	l.RemoveLiverLabel()

	want := []int32{0, 0, 1, 1, 0, 0}
	for i, w := range want {
		if l.Data[i] != w {
			t.Errorf("voxel %d: got %d, want %d", i, l.Data[i], w)
		}
	}

	// No remapped voxel may survive as its original code: every 1 in the
	// output must have been a 2 before.
	for _, v := range l.Data {
		if v == 2 {
			t.Error("label 2 survived the remap")
		}
	}
}

// TestCrop verifies sub-volume extraction and metadata inheritance
func TestCrop(t *testing.T) {
	dims := Dims{Z: 4, Y: 4, X: 4}
	v := NewVolume(dims)
	v.Spacing = [3]float64{0.75, 0.75, 2.5}
	for z := 0; z < 4; z++ {
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				v.Set(z, y, x, float64(z*100+y*10+x))
			}
		}
	}

	box := NewBoundingBox(dims, [3]int{1, 2, 0}, [3]int{3, 4, 2})
	crop := v.Crop(box)

	if crop.Dims != (Dims{Z: 2, Y: 2, X: 2}) {
		t.Fatalf("crop shape = %v, want (2, 2, 2)", crop.Dims)
	}
	if got := crop.At(0, 0, 0); got != 120 {
		t.Errorf("crop[0,0,0] = %v, want 120", got)
	}
	if got := crop.At(1, 1, 1); got != 231 {
		t.Errorf("crop[1,1,1] = %v, want 231", got)
	}
	if crop.Spacing != v.Spacing {
		t.Errorf("crop spacing = %v, want %v", crop.Spacing, v.Spacing)
	}
}

// TestZExtent verifies the labeled depth-range computation
func TestZExtent(t *testing.T) {
	l := NewLabelVolume(Dims{Z: 10, Y: 3, X: 3})
	l.Set(2, 1, 1, 1)
	l.Set(6, 0, 2, 2)

	start, stop, ok := l.ZExtent()
	if !ok {
		t.Fatal("expected a labeled extent")
	}
	if start != 2 || stop != 7 {
		t.Errorf("extent = [%d:%d], want [2:7]", start, stop)
	}

	empty := NewLabelVolume(Dims{Z: 2, Y: 2, X: 2})
	if _, _, ok := empty.ZExtent(); ok {
		t.Error("expected no extent for an all-background volume")
	}
}

func TestBoundingBox(t *testing.T) {
	dims := Dims{Z: 50, Y: 100, X: 100}

	t.Run("Clamping", func(t *testing.T) {
		box := NewBoundingBox(dims, [3]int{-5, 90, 0}, [3]int{60, 120, 100})
		want := BoundingBox{{0, 50}, {90, 100}, {0, 100}}
		if box != want {
			t.Errorf("box = %v, want %v", box, want)
		}
	})

	t.Run("ExpandZeroMargins", func(t *testing.T) {
		// Zero margins must reproduce the tight box exactly.
		box := NewBoundingBox(dims, [3]int{10, 30, 30}, [3]int{20, 40, 40})
		if got := box.Expand([3]int{0, 0, 0}, dims); got != box {
			t.Errorf("expanded box = %v, want %v", got, box)
		}
	})

	t.Run("ExpandClamped", func(t *testing.T) {
		box := NewBoundingBox(dims, [3]int{0, 30, 95}, [3]int{20, 40, 100})
		got := box.Expand([3]int{5, 2, 10}, dims)
		want := BoundingBox{{0, 25}, {28, 42}, {85, 100}}
		if got != want {
			t.Errorf("expanded box = %v, want %v", got, want)
		}
	})

	t.Run("LocationTag", func(t *testing.T) {
		box := NewBoundingBox(dims, [3]int{9, 28, 28}, [3]int{21, 42, 42})
		if tag := box.LocationTag(); tag != "6-7-7" {
			t.Errorf("tag = %q, want %q", tag, "6-7-7")
		}
	})
}
