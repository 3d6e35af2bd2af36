package ai

import (
	"image"
	"sort"

	"github.com/pkg/errors"

	"yolooverlay/internal/model"
)

// decodeOutput reads a YOLOv8 detection head laid out as [4+classes][anchors]:
// rows 0..3 hold cx, cy, w, h in input pixels, the remaining rows hold one
// score per class. Anchors whose best class score is below minConfidence are
// discarded.
func decodeOutput(data []float32, channels, anchors int, input image.Point, minConfidence float64) ([]model.DetectionResult, error) {
	if channels < 5 || anchors <= 0 {
		return nil, errors.Errorf("unexpected output layout %dx%d", channels, anchors)
	}
	if len(data) < channels*anchors {
		return nil, errors.Errorf("output holds %d values, layout needs %d", len(data), channels*anchors)
	}

	inW, inH := float64(input.X), float64(input.Y)
	classes := channels - 4

	var results []model.DetectionResult
	for a := 0; a < anchors; a++ {
		best, bestScore := 0, data[4*anchors+a]
		for c := 1; c < classes; c++ {
			if s := data[(4+c)*anchors+a]; s > bestScore {
				best, bestScore = c, s
			}
		}

		score := float64(bestScore)
		if score < minConfidence {
			continue
		}

		cx, cy := float64(data[a]), float64(data[anchors+a])
		w, h := float64(data[2*anchors+a]), float64(data[3*anchors+a])
		box := model.Rect{
			X:      (cx - w/2) / inW,
			Y:      (cy - h/2) / inH,
			Width:  w / inW,
			Height: h / inH,
		}

		results = append(results, model.DetectionResult{
			Box:        box.Clamp(),
			Score:      score,
			ClassIndex: best,
		})
	}
	return results, nil
}

// sortByScore orders results best first; ties keep their original order.
func sortByScore(results []model.DetectionResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}
