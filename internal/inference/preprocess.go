package inference

import (
	"image"

	"github.com/nfnt/resize"
)

// prepareInput resizes img to size x size and normalizes it into a CHW
// float32 buffer in [0,1], the input layout the yolo11 checkpoints expect.
func prepareInput(img image.Image, size int) []float32 {
	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)

	input := make([]float32, size*size*3)
	stride := size * size
	idx := 0
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			input[idx] = float32(r>>8) / 255.0
			input[idx+stride] = float32(g>>8) / 255.0
			input[idx+2*stride] = float32(b>>8) / 255.0
			idx++
		}
	}
	return input
}
