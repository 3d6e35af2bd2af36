package ai

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Labels maps class indices to names.
type Labels []string

// CocoLabels are the 80 classes the stock YOLOv8 weights are trained on.
var CocoLabels = Labels{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier",
	"toothbrush",
}

// Name returns the label for a class index, or a placeholder when unknown.
func (l Labels) Name(classIndex int) string {
	if classIndex >= 0 && classIndex < len(l) {
		return l[classIndex]
	}
	return fmt.Sprintf("class_%d", classIndex)
}

// LoadLabels reads one class name per line. An empty path yields CocoLabels.
func LoadLabels(path string) (Labels, error) {
	if path == "" {
		return CocoLabels, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open labels %s", path)
	}
	defer f.Close()

	var labels Labels
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			labels = append(labels, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read labels %s", path)
	}
	if len(labels) == 0 {
		return nil, errors.Errorf("labels file %s is empty", path)
	}
	return labels, nil
}
