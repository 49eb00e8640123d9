// Package blob finds spatially connected regions of a target label inside
// a segmentation volume and cuts margin-padded crops around the ones that
// are clean enough to train on.
//
// Connected components are computed by breadth-first flood fill over the
// dense voxel grid using full 26-connectivity, so foreground voxels that
// touch only at an edge or corner still belong to the same blob.
package blob

import (
	"volcrop/pkg/volume"
)

// Labeling is the result of one connected-component pass: a dense array of
// component ids (0 is background, components are numbered 1..N) over the
// same grid as the input mask.
type Labeling struct {
	// Labels holds the component id per voxel, flat in (z, y, x) order.
	Labels []int32

	// Dims are the grid dimensions.
	Dims volume.Dims

	// N is the number of components found.
	N int
}

// neighbors26 enumerates all 26 offsets of face, edge and corner adjacency.
var neighbors26 = func() [][3]int {
	var offs [][3]int
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dz == 0 && dy == 0 && dx == 0 {
					continue
				}
				offs = append(offs, [3]int{dz, dy, dx})
			}
		}
	}
	return offs
}()

// LabelComponents runs 26-connected component labeling over a binary mask.
// Component ids are assigned in raster-scan order of each component's first
// voxel, so the numbering is deterministic for a given mask.
func LabelComponents(mask []bool, dims volume.Dims) *Labeling {
	labels := make([]int32, dims.Len())
	var next int32

	queue := make([]int, 0, 1024)
	yx := dims.Y * dims.X

	for seed, fg := range mask {
		if !fg || labels[seed] != 0 {
			continue
		}
		next++
		labels[seed] = next

		queue = append(queue[:0], seed)
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]

			cz := cur / yx
			cy := (cur % yx) / dims.X
			cx := cur % dims.X

			for _, off := range neighbors26 {
				nz, ny, nx := cz+off[0], cy+off[1], cx+off[2]
				if nz < 0 || nz >= dims.Z || ny < 0 || ny >= dims.Y || nx < 0 || nx >= dims.X {
					continue
				}
				ni := (nz*dims.Y+ny)*dims.X + nx
				if mask[ni] && labels[ni] == 0 {
					labels[ni] = next
					queue = append(queue, ni)
				}
			}
		}
	}

	return &Labeling{Labels: labels, Dims: dims, N: int(next)}
}

// Blob is one connected component: its id within the labeling pass, the
// tight bounding box of its voxels and its voxel count.
type Blob struct {
	// ID is the component id, unique within one labeling pass only.
	ID int32

	// Bounds is the tight box: every voxel of the component lies inside
	// it and each face touches at least one component voxel.
	Bounds volume.BoundingBox

	// Voxels is the number of voxels carrying the component id.
	Voxels int
}

// Blobs computes the tight bounding box and voxel count of every component
// in a single pass, returned in component id order.
func (l *Labeling) Blobs() []Blob {
	if l.N == 0 {
		return nil
	}

	lo := make([][3]int, l.N)
	hi := make([][3]int, l.N)
	count := make([]int, l.N)
	for i := range lo {
		lo[i] = [3]int{l.Dims.Z, l.Dims.Y, l.Dims.X}
		hi[i] = [3]int{-1, -1, -1}
	}

	i := 0
	for z := 0; z < l.Dims.Z; z++ {
		for y := 0; y < l.Dims.Y; y++ {
			for x := 0; x < l.Dims.X; x++ {
				id := l.Labels[i]
				i++
				if id == 0 {
					continue
				}
				c := int(id - 1)
				count[c]++
				p := [3]int{z, y, x}
				for a := 0; a < 3; a++ {
					if p[a] < lo[c][a] {
						lo[c][a] = p[a]
					}
					if p[a] > hi[c][a] {
						hi[c][a] = p[a]
					}
				}
			}
		}
	}

	blobs := make([]Blob, l.N)
	for c := range blobs {
		stop := [3]int{hi[c][0] + 1, hi[c][1] + 1, hi[c][2] + 1}
		blobs[c] = Blob{
			ID:     int32(c + 1),
			Bounds: volume.NewBoundingBox(l.Dims, lo[c], stop),
			Voxels: count[c],
		}
	}
	return blobs
}

// Contamination measures how much of a blob's tight bounding box is
// occupied by voxels of other components: the count of voxels carrying a
// component id other than background and other than the blob's own,
// divided by the total voxel count of the box.
func (l *Labeling) Contamination(b Blob) float64 {
	box := b.Bounds
	total := box.Shape().Len()
	if total == 0 {
		return 0
	}

	other := 0
	for z := box[0].Start; z < box[0].Stop; z++ {
		for y := box[1].Start; y < box[1].Stop; y++ {
			row := (z*l.Dims.Y + y) * l.Dims.X
			for x := box[2].Start; x < box[2].Stop; x++ {
				if id := l.Labels[row+x]; id != 0 && id != b.ID {
					other++
				}
			}
		}
	}
	return float64(other) / float64(total)
}
