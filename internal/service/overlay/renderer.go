// Package overlay draws detection outlines onto frames and keeps the list of
// drawn boxes for the presentation pass.
package overlay

import (
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"yolooverlay/internal/model"
)

const (
	// FallbackThickness is used when the confidence threshold is zero.
	FallbackThickness = 1
	// MaxDrawThickness caps the outline width handed to OpenCV.
	MaxDrawThickness = 32
	// HighlightAlpha is the opacity of the filled presentation boxes.
	HighlightAlpha = 0x60
)

// Palette holds the outline colours, picked by class index.
var Palette = []color.RGBA{
	{R: 0xff, A: 0xff},          // red
	{G: 0xff, A: 0xff},          // green
	{B: 0xff, A: 0xff},          // blue
	{G: 0xff, B: 0xff, A: 0xff}, // cyan
	{R: 0xff, B: 0xff, A: 0xff}, // magenta
	{R: 0xff, G: 0xff, A: 0xff}, // yellow
}

// ColorFor returns the palette colour for a class.
func ColorFor(classIndex int) color.RGBA {
	n := len(Palette)
	return Palette[((classIndex%n)+n)%n]
}

// Thickness returns the outline width for a score: floor(score/minConfidence),
// never negative. A zero threshold yields FallbackThickness.
func Thickness(score, minConfidence float64) int {
	if minConfidence <= 0 {
		return FallbackThickness
	}
	// absorbs quotients like 0.6/0.2 landing just under a whole number
	t := math.Floor(score/minConfidence + 1e-9)
	if t <= 0 || math.IsNaN(t) {
		return 0
	}
	if t > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(t)
}

// Shape is one filled highlight for the presentation pass.
type Shape struct {
	Box   model.Rect      `json:"box"`
	Rect  image.Rectangle `json:"rect"`
	Color color.RGBA      `json:"color"`
}

// Renderer draws outlines and retains the boxes of the latest frame.
type Renderer struct {
	mu    sync.Mutex
	boxes []model.Rect
}

// NewRenderer creates an empty Renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Draw outlines every result on frame. The retained box list is replaced by
// exactly the boxes of this call, including boxes whose outline width is zero.
func (r *Renderer) Draw(frame *gocv.Mat, results []model.DetectionResult, minConfidence float64) error {
	r.mu.Lock()
	r.boxes = r.boxes[:0]
	for _, res := range results {
		r.boxes = append(r.boxes, res.Box)
	}
	r.mu.Unlock()

	size := image.Pt(frame.Cols(), frame.Rows())
	for _, res := range results {
		thickness := Thickness(res.Score, minConfidence)
		if thickness == 0 {
			continue
		}
		if thickness > MaxDrawThickness {
			thickness = MaxDrawThickness
		}
		if err := gocv.Rectangle(frame, res.Box.Scale(size), ColorFor(res.ClassIndex), thickness); err != nil {
			return errors.Wrap(err, "failed to draw rectangle")
		}
	}
	return nil
}

// Boxes returns a copy of the boxes retained by the last Draw.
func (r *Renderer) Boxes() []model.Rect {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.Rect, len(r.boxes))
	copy(out, r.boxes)
	return out
}

// Shapes scales the retained boxes to a display surface and fills them with
// the label colour at HighlightAlpha.
func (r *Renderer) Shapes(surface image.Point, labelColor color.RGBA) []Shape {
	r.mu.Lock()
	defer r.mu.Unlock()

	fill := labelColor
	fill.A = HighlightAlpha
	shapes := make([]Shape, 0, len(r.boxes))
	for _, b := range r.boxes {
		shapes = append(shapes, Shape{Box: b, Rect: b.Scale(surface), Color: fill})
	}
	return shapes
}

// Reset drops the retained boxes.
func (r *Renderer) Reset() {
	r.mu.Lock()
	r.boxes = nil
	r.mu.Unlock()
}
