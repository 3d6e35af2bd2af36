package dto

import "yolooverlay/internal/model"

// FrameMessage is broadcast to viewers once per tick.
type FrameMessage struct {
	Type       string      `json:"type"`
	Image      string      `json:"image"` // base64 JPEG
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	Highlights []Highlight `json:"highlights"`
}

// Highlight is one filled box scaled to the display surface.
type Highlight struct {
	Box   model.Rect `json:"box"`
	X     int        `json:"x"`
	Y     int        `json:"y"`
	W     int        `json:"w"`
	H     int        `json:"h"`
	Color string     `json:"color"` // #rrggbbaa
}
