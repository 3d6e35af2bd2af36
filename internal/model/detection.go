package model

import "image"

// Rect is a normalized rectangle in [0,1]x[0,1]. The origin is the top-left
// corner of the frame and Y grows downward, the same as image rows.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Scale maps the rectangle onto a surface of the given pixel size.
func (r Rect) Scale(size image.Point) image.Rectangle {
	x0 := int(r.X * float64(size.X))
	y0 := int(r.Y * float64(size.Y))
	x1 := int((r.X + r.Width) * float64(size.X))
	y1 := int((r.Y + r.Height) * float64(size.Y))
	return image.Rect(x0, y0, x1, y1)
}

// Clamp returns the part of r inside the unit square.
func (r Rect) Clamp() Rect {
	x0, y0 := clamp01(r.X), clamp01(r.Y)
	x1, y1 := clamp01(r.X+r.Width), clamp01(r.Y+r.Height)
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// DetectionResult is one predicted object instance.
type DetectionResult struct {
	Box        Rect    `json:"box"`
	Score      float64 `json:"score"`
	ClassIndex int     `json:"classIndex"`
}
