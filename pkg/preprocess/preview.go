package preprocess

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"

	"volcrop/pkg/volume"
)

// savePreview writes the middle depth slice of a CT crop as a grayscale
// JPEG, mapping the clipped intensity range onto the full gray scale.
// Previews are a visual QC aid only and never feed back into the data.
func savePreview(path string, v *volume.Volume) error {
	z := v.Dims.Z / 2
	img := image.NewGray16(image.Rect(0, 0, v.Dims.X, v.Dims.Y))

	span := float64(volume.IntensityMax - volume.IntensityMin)
	for y := 0; y < v.Dims.Y; y++ {
		for x := 0; x < v.Dims.X; x++ {
			norm := (v.At(z, y, x) - volume.IntensityMin) / span
			if norm < 0 {
				norm = 0
			} else if norm > 1 {
				norm = 1
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(norm * 65535)})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create preview file: %w", err)
	}
	defer f.Close()

	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
		return fmt.Errorf("failed to encode preview: %w", err)
	}
	return nil
}
