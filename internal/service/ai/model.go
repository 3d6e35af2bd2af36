package ai

import (
	"image"
	"os"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ErrModelClosed is returned when inference runs on a released model.
var ErrModelClosed = errors.New("model handle closed")

// Model owns a loaded network and its expected input shape.
type Model struct {
	mu     sync.Mutex
	net    gocv.Net
	input  image.Point
	path   string
	closed bool
}

// LoadModel reads an ONNX network from path. input is the tensor size the
// network was exported with.
func LoadModel(path string, input image.Point) (*Model, error) {
	if input.X <= 0 || input.Y <= 0 {
		return nil, errors.Errorf("invalid model input shape %v", input)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "model file not found: %s", path)
	}

	net := gocv.ReadNetFromONNX(path)
	if net.Empty() {
		return nil, errors.Errorf("failed to load network from %s", path)
	}

	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		_ = net.Close()
		return nil, errors.New("failed to set preferable backend or target")
	}

	return &Model{net: net, input: input, path: path}, nil
}

// InputShape returns the width and height the network expects.
func (m *Model) InputShape() image.Point {
	return m.input
}

// Path returns the file the model was loaded from.
func (m *Model) Path() string {
	return m.path
}

// Close releases the network. Further calls are no-ops.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.net.Close()
}

// forward runs one blob through the network. The caller owns the result.
func (m *Model) forward(blob gocv.Mat) (gocv.Mat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return gocv.Mat{}, ErrModelClosed
	}
	m.net.SetInput(blob, "")
	return m.net.Forward(""), nil
}
