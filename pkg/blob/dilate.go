package blob

import (
	"volcrop/pkg/volume"
)

// Dilate grows a binary mask by the given number of 3D binary dilation
// iterations. Each iteration absorbs every background voxel that shares a
// face with a foreground voxel, which bridges small gaps inside a
// structure before component labeling. Zero iterations return the mask
// unchanged; otherwise a new mask is returned and the input is untouched.
func Dilate(mask []bool, dims volume.Dims, iterations int) []bool {
	if iterations <= 0 {
		return mask
	}

	cur := mask
	for it := 0; it < iterations; it++ {
		next := make([]bool, len(cur))
		copy(next, cur)

		i := 0
		for z := 0; z < dims.Z; z++ {
			for y := 0; y < dims.Y; y++ {
				for x := 0; x < dims.X; x++ {
					if cur[i] {
						i++
						continue
					}
					if (x > 0 && cur[i-1]) ||
						(x < dims.X-1 && cur[i+1]) ||
						(y > 0 && cur[i-dims.X]) ||
						(y < dims.Y-1 && cur[i+dims.X]) ||
						(z > 0 && cur[i-dims.Y*dims.X]) ||
						(z < dims.Z-1 && cur[i+dims.Y*dims.X]) {
						next[i] = true
					}
					i++
				}
			}
		}
		cur = next
	}
	return cur
}
