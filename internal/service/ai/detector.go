package ai

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"yolooverlay/internal/logger"
	"yolooverlay/internal/model"
)

// Detector runs YOLOv8 inference against a Model.
type Detector struct {
	model  *Model
	iou    float32
	labels Labels
	logger *logger.Logger
}

// NewDetector binds a Detector to a loaded model.
func NewDetector(m *Model, iouThreshold float64, labels Labels, logger *logger.Logger) *Detector {
	return &Detector{
		model:  m,
		iou:    float32(iouThreshold),
		labels: labels,
		logger: logger,
	}
}

// Run detects objects in frame. Results below minConfidence are dropped; the
// threshold is read on every call. frame is not modified.
func (d *Detector) Run(frame gocv.Mat, minConfidence float64) ([]model.DetectionResult, error) {
	if frame.Empty() {
		return nil, errors.New("cannot run inference on an empty frame")
	}

	input := d.model.InputShape()
	blob := gocv.BlobFromImage(frame, 1.0/255.0, input, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	output, err := d.model.forward(blob)
	if err != nil {
		return nil, err
	}
	defer output.Close()

	sizes := output.Size()
	if len(sizes) != 3 || sizes[0] != 1 {
		return nil, errors.Errorf("unexpected output shape %v", sizes)
	}

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read output tensor")
	}

	candidates, err := decodeOutput(data, sizes[1], sizes[2], input, minConfidence)
	if err != nil {
		return nil, err
	}

	results := d.suppress(candidates, input)
	for _, r := range results {
		d.logger.Info("Detected %s (%.2f%%)", d.labels.Name(r.ClassIndex), r.Score*100)
	}
	return results, nil
}

// suppress removes overlapping boxes, keeping the highest score of each group.
// Candidates were already filtered by score, so NMS applies no threshold of
// its own.
func (d *Detector) suppress(candidates []model.DetectionResult, input image.Point) []model.DetectionResult {
	if len(candidates) == 0 {
		return nil
	}

	rects := make([]image.Rectangle, len(candidates))
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		rects[i] = c.Box.Scale(input)
		scores[i] = float32(c.Score)
	}

	indices := gocv.NMSBoxes(rects, scores, 0, d.iou)
	results := make([]model.DetectionResult, 0, len(indices))
	for _, idx := range indices {
		results = append(results, candidates[idx])
	}
	sortByScore(results)
	return results
}
