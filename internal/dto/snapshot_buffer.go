package dto

import (
	"time"

	"yolooverlay/internal/model"
)

// BufferedSnapshot holds an encoded annotated frame and its detections before
// it is flushed to disk.
type BufferedSnapshot struct {
	Timestamp time.Time
	Provider  string
	Results   []model.DetectionResult
	Data      []byte
}
