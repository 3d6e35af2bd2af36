package provider

import (
	"image"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gocv.io/x/gocv"
)

// Capture is a Provider backed by an OpenCV VideoCapture. Frames are resized
// to the requested size before they are handed out.
type Capture struct {
	kind   Kind
	source string
	open   func() (*gocv.VideoCapture, error)
	rewind bool
	size   image.Point

	mu      sync.Mutex
	vc      *gocv.VideoCapture
	raw     gocv.Mat
	out     gocv.Mat
	started bool
}

// NewWebCam returns a Provider reading from a camera device.
func NewWebCam(device, width, height int) *Capture {
	return &Capture{
		kind:   KindWebCam,
		source: "device",
		open:   func() (*gocv.VideoCapture, error) { return gocv.VideoCaptureDevice(device) },
		size:   image.Pt(width, height),
	}
}

// NewVideo returns a Provider decoding a video file. With loop set the file
// restarts from its first frame when it runs out.
func NewVideo(path string, loop bool, width, height int) *Capture {
	return &Capture{
		kind:   KindVideo,
		source: path,
		open:   func() (*gocv.VideoCapture, error) { return gocv.VideoCaptureFile(path) },
		rewind: loop,
		size:   image.Pt(width, height),
	}
}

// Kind implements Provider.
func (c *Capture) Kind() Kind { return c.kind }

// Size returns the frame size handed out by Texture.
func (c *Capture) Size() image.Point { return c.size }

// Start implements Provider.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil
	}

	vc, err := c.open()
	if err != nil {
		return errors.Wrapf(err, "failed to open %s %s", c.kind, c.source)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return errors.Errorf("%s %s did not open", c.kind, c.source)
	}

	c.vc = vc
	c.raw = gocv.NewMat()
	c.out = gocv.NewMat()
	c.started = true
	return nil
}

// Texture implements Provider.
func (c *Capture) Texture() (gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return gocv.Mat{}, ErrNotStarted
	}

	if !c.read() {
		if !c.rewind {
			return gocv.Mat{}, ErrNoFrame
		}
		c.vc.Set(gocv.VideoCapturePosFrames, 0)
		if !c.read() {
			return gocv.Mat{}, ErrNoFrame
		}
	}

	if err := gocv.Resize(c.raw, &c.out, c.size, 0, 0, gocv.InterpolationLinear); err != nil {
		return gocv.Mat{}, errors.Wrap(err, "failed to resize frame")
	}
	return c.out, nil
}

func (c *Capture) read() bool {
	return c.vc.Read(&c.raw) && !c.raw.Empty()
}

// Stop implements Provider.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return nil
	}
	c.started = false

	err := multierr.Combine(c.vc.Close(), c.raw.Close(), c.out.Close())
	c.vc = nil
	return errors.Wrapf(err, "failed to stop %s", c.kind)
}
