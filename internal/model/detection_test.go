package model

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRect_Scale(t *testing.T) {
	r := Rect{X: 0.25, Y: 0.5, Width: 0.5, Height: 0.25}

	assert.Equal(t, image.Rect(160, 320, 480, 480), r.Scale(image.Pt(640, 640)))
	assert.Equal(t, image.Rect(320, 360, 960, 540), r.Scale(image.Pt(1280, 720)))
	assert.Equal(t, image.Rectangle{}, r.Scale(image.Point{}))
}

func TestRect_Clamp(t *testing.T) {
	tests := []struct {
		name string
		in   Rect
		want Rect
	}{
		{"inside", Rect{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.4}, Rect{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.4}},
		{"negative origin", Rect{X: -0.5, Y: -0.25, Width: 1, Height: 0.5}, Rect{X: 0, Y: 0, Width: 0.5, Height: 0.25}},
		{"past the edge", Rect{X: 0.5, Y: 0.75, Width: 1, Height: 1}, Rect{X: 0.5, Y: 0.75, Width: 0.5, Height: 0.25}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Clamp()
			assert.InDelta(t, tt.want.X, got.X, 1e-9)
			assert.InDelta(t, tt.want.Y, got.Y, 1e-9)
			assert.InDelta(t, tt.want.Width, got.Width, 1e-9)
			assert.InDelta(t, tt.want.Height, got.Height, 1e-9)
		})
	}
}
