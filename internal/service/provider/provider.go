// Package provider implements the frame sources the detection loop pulls from.
package provider

import (
	"strings"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Kind selects the category of frame source.
type Kind int

const (
	KindWebCam Kind = iota
	KindVideo
)

var (
	// ErrUnknownKind is returned when no source exists for a Kind.
	ErrUnknownKind = errors.New("unknown texture provider kind")
	// ErrNoFrame is returned when a source has nothing to deliver.
	ErrNoFrame = errors.New("no frame available")
	// ErrNotStarted is returned by Texture before Start succeeded.
	ErrNotStarted = errors.New("texture provider not started")
)

func (k Kind) String() string {
	switch k {
	case KindWebCam:
		return "webcam"
	case KindVideo:
		return "video"
	default:
		return "unknown"
	}
}

// ParseKind converts a configuration value into a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "webcam", "camera":
		return KindWebCam, nil
	case "video", "file":
		return KindVideo, nil
	default:
		return 0, errors.Wrapf(ErrUnknownKind, "%q", s)
	}
}

// MarshalText encodes a Kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	if k != KindWebCam && k != KindVideo {
		return nil, errors.Wrapf(ErrUnknownKind, "%d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a Kind by name.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Provider supplies frames sized for the model input.
type Provider interface {
	Kind() Kind
	// Start opens the underlying device or file.
	Start() error
	// Texture returns the next frame. The returned Mat is owned by the
	// provider and stays valid until the next call to Texture or Stop.
	Texture() (gocv.Mat, error)
	// Stop releases the device. Calling it more than once is allowed.
	Stop() error
}

// Settings holds the per-kind source options.
type Settings struct {
	Device    int
	VideoPath string
	Loop      bool
}

// Factory builds an unstarted Provider for a kind at the given frame size.
// Building must not open anything; New satisfies it.
type Factory func(kind Kind, s Settings, width, height int) (Provider, error)

// New builds an unstarted Provider.
func New(kind Kind, s Settings, width, height int) (Provider, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid frame size %dx%d", width, height)
	}
	switch kind {
	case KindWebCam:
		return NewWebCam(s.Device, width, height), nil
	case KindVideo:
		if s.VideoPath == "" {
			return nil, errors.New("video provider needs a file path")
		}
		return NewVideo(s.VideoPath, s.Loop, width, height), nil
	default:
		return nil, errors.Wrapf(ErrUnknownKind, "%d", int(kind))
	}
}
