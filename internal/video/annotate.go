package video

import (
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"

	"github.com/fruitvision/vision-server/pkg/types"
)

// boxPalette cycles per class index so the same class keeps the same color
// across frames.
var boxPalette = []color.RGBA{
	{R: 255, G: 64, B: 64, A: 255},
	{R: 64, G: 255, B: 64, A: 255},
	{R: 64, G: 128, B: 255, A: 255},
	{R: 255, G: 200, B: 0, A: 255},
	{R: 255, G: 64, B: 255, A: 255},
	{R: 0, G: 220, B: 220, A: 255},
}

const boxThickness = 2

// annotate copies img and draws each detection's bounding box onto the copy.
func annotate(img image.Image, dets []types.Detection) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Copy(out, image.Point{}, img, b, xdraw.Src, nil)

	for i, d := range dets {
		c := boxPalette[colorIndex(d.Class, i)%len(boxPalette)]
		drawRect(out, int(d.BBox[0]), int(d.BBox[1]), int(d.BBox[2]), int(d.BBox[3]), c)
	}
	return out
}

func colorIndex(class string, fallback int) int {
	if class == "" {
		return fallback
	}
	sum := 0
	for _, r := range class {
		sum += int(r)
	}
	return sum
}

// drawRect outlines the box, clipped to the image bounds.
func drawRect(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	b := img.Bounds()
	for t := 0; t < boxThickness; t++ {
		drawHLine(img, x1, x2, y1+t, c, b)
		drawHLine(img, x1, x2, y2-t, c, b)
		drawVLine(img, y1, y2, x1+t, c, b)
		drawVLine(img, y1, y2, x2-t, c, b)
	}
}

func drawHLine(img *image.RGBA, x1, x2, y int, c color.RGBA, b image.Rectangle) {
	if y < b.Min.Y || y >= b.Max.Y {
		return
	}
	for x := max(x1, b.Min.X); x <= min(x2, b.Max.X-1); x++ {
		img.SetRGBA(x, y, c)
	}
}

func drawVLine(img *image.RGBA, y1, y2, x int, c color.RGBA, b image.Rectangle) {
	if x < b.Min.X || x >= b.Max.X {
		return
	}
	for y := max(y1, b.Min.Y); y <= min(y2, b.Max.Y-1); y++ {
		img.SetRGBA(x, y, c)
	}
}
