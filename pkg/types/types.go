package types

// BoundingBox is an axis-aligned box in source-image pixel coordinates,
// serialized on the wire as [x1, y1, x2, y2].
type BoundingBox struct {
	X1 float64
	Y1 float64
	X2 float64
	Y2 float64
}

// Array returns the wire representation of the box.
func (b BoundingBox) Array() [4]float64 {
	return [4]float64{b.X1, b.Y1, b.X2, b.Y2}
}

// Width returns the box width in pixels.
func (b BoundingBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the box height in pixels.
func (b BoundingBox) Height() float64 { return b.Y2 - b.Y1 }

// Area returns the box area in square pixels.
func (b BoundingBox) Area() float64 {
	w, h := b.Width(), b.Height()
	if w < 0 || h < 0 {
		return 0
	}
	return w * h
}

// IoU returns the intersection-over-union of two boxes.
func (b BoundingBox) IoU(o BoundingBox) float64 {
	x1 := max(b.X1, o.X1)
	y1 := max(b.Y1, o.Y1)
	x2 := min(b.X2, o.X2)
	y2 := min(b.Y2, o.Y2)

	inter := max(0, x2-x1) * max(0, y2-y1)
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Detection is a single detected object. Immutable once created; owned by
// the response it is embedded in.
type Detection struct {
	ID         int         `json:"id"`
	Class      string      `json:"class"`
	Confidence float64     `json:"confidence"`
	BBox       [4]float64  `json:"bbox"`
	Box        BoundingBox `json:"-"`
}

// Mask is one segmented object: its box, score, and a base64-encoded PNG
// of the binary mask at source-image resolution.
type Mask struct {
	ID         int        `json:"id"`
	Class      string     `json:"class"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
	Mask       string     `json:"mask"`
	Area       int        `json:"area"`
}
