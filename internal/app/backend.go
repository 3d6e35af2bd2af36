package app

import (
	"image"

	"github.com/pkg/errors"

	"yolooverlay/internal/logger"
	"yolooverlay/internal/service"
	"yolooverlay/internal/service/ai"
)

// onnxBackend loads YOLOv8 ONNX weights through gocv's DNN module.
type onnxBackend struct {
	path   string
	input  image.Point
	iou    float64
	labels ai.Labels
	logger *logger.Logger
}

func (b *onnxBackend) Load() (service.ModelHandle, error) {
	m, err := ai.LoadModel(b.path, b.input)
	if err != nil {
		return nil, err
	}
	b.logger.Info("Loaded model %s (input %dx%d)", m.Path(), b.input.X, b.input.Y)
	return m, nil
}

func (b *onnxBackend) Bind(handle service.ModelHandle) (service.Engine, error) {
	m, ok := handle.(*ai.Model)
	if !ok {
		return nil, errors.Errorf("unsupported model handle %T", handle)
	}
	return ai.NewDetector(m, b.iou, b.labels, b.logger), nil
}
