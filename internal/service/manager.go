// Package service drives the detection loop: it owns the model handle and the
// texture source and runs pull, inference, overlay and present once per tick.
package service

import (
	"context"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gocv.io/x/gocv"

	"yolooverlay/internal/config"
	"yolooverlay/internal/logger"
	"yolooverlay/internal/model"
	"yolooverlay/internal/service/overlay"
	"yolooverlay/internal/service/provider"
)

var (
	// ErrNotRunning is returned by Tick while the loop is stopped.
	ErrNotRunning = errors.New("detection loop is not running")
	// ErrInvalidConfiguration is returned when the settings name something
	// that cannot be built, such as an unknown provider kind.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// Settings are the options that may change while the server runs.
type Settings struct {
	MinBoxConfidence float64
	Provider         provider.Kind
	LabelColor       color.RGBA
	// Display is the surface size highlight shapes are scaled to.
	Display image.Point
	// Source holds the device, file and loop options handed to the factory.
	Source provider.Settings
}

// SettingsFromConfig extracts the runtime settings from a loaded Config.
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	kind, err := provider.ParseKind(cfg.Provider)
	if err != nil {
		return Settings{}, errors.Wrap(ErrInvalidConfiguration, err.Error())
	}
	return Settings{
		MinBoxConfidence: cfg.MinBoxConfidence,
		Provider:         kind,
		LabelColor:       cfg.LabelColor,
		Display:          cfg.Display(),
		Source: provider.Settings{
			Device:    cfg.CameraDevice,
			VideoPath: cfg.VideoPath,
			Loop:      cfg.VideoLoop,
		},
	}, nil
}

// ModelHandle owns loaded weights and reports the input size they expect.
type ModelHandle interface {
	InputShape() image.Point
	Close() error
}

// Engine runs inference on one frame. minConfidence is read on every call.
type Engine interface {
	Run(frame gocv.Mat, minConfidence float64) ([]model.DetectionResult, error)
}

// Backend loads a model and binds an Engine to it.
type Backend interface {
	Load() (ModelHandle, error)
	Bind(handle ModelHandle) (Engine, error)
}

// Presenter displays an annotated frame with its highlight shapes.
type Presenter interface {
	Present(frame gocv.Mat, shapes []overlay.Shape) error
}

// SnapshotSink archives annotated frames that carried detections.
type SnapshotSink interface {
	AddFrame(frame gocv.Mat, source string, results []model.DetectionResult)
}

// Dependencies are the collaborators a Manager is built from. Snapshots and
// Clock are optional.
type Dependencies struct {
	Backend   Backend
	Factory   provider.Factory
	Renderer  *overlay.Renderer
	Presenter Presenter
	Snapshots SnapshotSink
	Clock     clock.Clock
	Logger    *logger.Logger
}

// Status is a point-in-time view of the loop.
type Status struct {
	Running          bool      `json:"running"`
	Provider         string    `json:"provider"`
	SourceLive       bool      `json:"sourceLive"`
	MinBoxConfidence float64   `json:"minBoxConfidence"`
	Ticks            uint64    `json:"ticks"`
	Failures         uint64    `json:"failures"`
	LastResults      int       `json:"lastResults"`
	LastTick         time.Time `json:"lastTick,omitempty"`
	LastError        string    `json:"lastError,omitempty"`
}

// Manager is the lifecycle controller. All state changes and ticks are
// serialised by mu, so ticks never overlap and a reconfiguration never runs
// in the middle of one.
type Manager struct {
	backend   Backend
	factory   provider.Factory
	renderer  *overlay.Renderer
	presenter Presenter
	snapshots SnapshotSink
	clock     clock.Clock
	interval  time.Duration
	logger    *logger.Logger

	mu       sync.Mutex
	settings Settings
	handle   ModelHandle
	engine   Engine
	source   provider.Provider
	running  bool

	ticks       uint64
	failures    uint64
	lastResults int
	lastTick    time.Time
	lastErr     error
}

// NewManager creates a stopped Manager. interval is the tick cadence used by Run.
func NewManager(settings Settings, interval time.Duration, deps Dependencies) *Manager {
	settings.MinBoxConfidence = config.ClampConfidence(settings.MinBoxConfidence)
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Renderer == nil {
		deps.Renderer = overlay.NewRenderer()
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNopLogger()
	}
	return &Manager{
		backend:   deps.Backend,
		factory:   deps.Factory,
		renderer:  deps.Renderer,
		presenter: deps.Presenter,
		snapshots: deps.Snapshots,
		clock:     deps.Clock,
		interval:  interval,
		logger:    deps.Logger,
		settings:  settings,
	}
}

// Start loads the model, binds the engine and starts a texture source sized
// to the model input. On failure everything acquired is released and the
// model handle stays unset. Starting a running Manager is a no-op.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	handle, err := m.backend.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load model")
	}

	engine, err := m.backend.Bind(handle)
	if err != nil {
		return multierr.Append(errors.Wrap(err, "failed to bind inference engine"), handle.Close())
	}

	source, err := m.buildSource(handle)
	if err != nil {
		return multierr.Append(err, handle.Close())
	}

	m.handle = handle
	m.engine = engine
	m.source = source
	m.running = true
	m.logger.Info("Detection loop started with %s provider at %v", source.Kind(), handle.InputShape())
	return nil
}

// buildSource constructs and starts a texture source for the current
// settings. The caller holds mu.
func (m *Manager) buildSource(handle ModelHandle) (provider.Provider, error) {
	source, err := m.newSource(m.settings, handle.InputShape())
	if err != nil {
		return nil, err
	}
	if err := source.Start(); err != nil {
		return nil, multierr.Append(errors.Wrapf(err, "failed to start %s provider", m.settings.Provider), source.Stop())
	}
	return source, nil
}

// newSource constructs an unstarted texture source for s.
func (m *Manager) newSource(s Settings, shape image.Point) (provider.Provider, error) {
	source, err := m.factory(s.Provider, s.Source, shape.X, shape.Y)
	if err != nil {
		// building opens nothing, so a failure here is a settings problem
		return nil, errors.Wrapf(ErrInvalidConfiguration, "failed to build %s provider: %v", s.Provider, err)
	}
	return source, nil
}

// Stop releases the model handle and stops the texture source. It may be
// called any number of times, including after a failed Start.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.handle != nil {
		err = multierr.Append(err, errors.Wrap(m.handle.Close(), "failed to release model"))
		m.handle = nil
	}
	if m.source != nil {
		err = multierr.Append(err, errors.Wrap(m.source.Stop(), "failed to stop provider"))
		m.source = nil
	}
	m.engine = nil

	if m.running {
		m.logger.Info("Detection loop stopped")
	}
	m.running = false
	m.renderer.Reset()
	return err
}

// Tick runs one pull, inference, overlay and present cycle. A frame that
// cannot be pulled ends the tick before anything is drawn.
func (m *Manager) Tick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return ErrNotRunning
	}

	err := m.tick()
	m.ticks++
	m.lastTick = m.clock.Now()
	m.lastErr = err
	if err != nil {
		m.failures++
	}
	return err
}

func (m *Manager) tick() error {
	if m.source == nil {
		return errors.Wrap(provider.ErrNotStarted, "no texture source")
	}

	frame, err := m.source.Texture()
	if err != nil {
		return errors.Wrap(err, "failed to pull frame")
	}

	threshold := m.settings.MinBoxConfidence
	results, err := m.engine.Run(frame, threshold)
	if err != nil {
		return errors.Wrap(err, "inference failed")
	}
	m.lastResults = len(results)

	if err := m.renderer.Draw(&frame, results, threshold); err != nil {
		return err
	}

	shapes := m.renderer.Shapes(m.settings.Display, m.settings.LabelColor)
	if m.presenter != nil {
		if err := m.presenter.Present(frame, shapes); err != nil {
			return errors.Wrap(err, "failed to present frame")
		}
	}

	if m.snapshots != nil && len(results) > 0 {
		m.snapshots.AddFrame(frame, m.source.Kind().String(), results)
	}
	return nil
}

// Reconfigure applies new settings and reconciles the texture source with
// the requested kind and source options. Without a model handle the settings
// are only recorded. While running the replacement is built first, then the
// old source is stopped and the new one started, so exactly one source is
// live afterwards. If the replacement cannot be built or started the old
// source and the previous settings are kept. The model handle is never
// replaced here.
func (m *Manager) Reconfigure(s Settings) error {
	if s.Provider != provider.KindWebCam && s.Provider != provider.KindVideo {
		return errors.Wrapf(ErrInvalidConfiguration, "unknown provider kind %d", int(s.Provider))
	}
	s.MinBoxConfidence = config.ClampConfidence(s.MinBoxConfidence)

	m.mu.Lock()
	defer m.mu.Unlock()

	if s.Display.X <= 0 || s.Display.Y <= 0 {
		s.Display = m.settings.Display
	}

	previous := m.settings
	if m.handle == nil {
		m.settings = s
		if previous.Provider != s.Provider {
			m.logger.Info("Provider set to %s, applied on next start", s.Provider)
		}
		return nil
	}
	if m.source != nil && m.source.Kind() == s.Provider && previous.Source == s.Source {
		m.settings = s
		return nil
	}

	next, err := m.newSource(s, m.handle.InputShape())
	if err != nil {
		m.logger.Error("Keeping %s provider: %v", previous.Provider, err)
		return err
	}

	var stopErr error
	if m.source != nil {
		stopErr = errors.Wrapf(m.source.Stop(), "failed to stop %s provider", m.source.Kind())
	}

	if err := next.Start(); err != nil {
		err = multierr.Append(errors.Wrapf(err, "failed to start %s provider", s.Provider), next.Stop())
		if m.source != nil {
			if restartErr := m.source.Start(); restartErr != nil {
				m.source = nil
				err = multierr.Append(err, errors.Wrapf(restartErr, "failed to restart %s provider", previous.Provider))
			}
		}
		m.logger.Error("Failed to switch provider to %s: %v", s.Provider, err)
		return multierr.Append(stopErr, err)
	}

	m.source = next
	m.settings = s
	m.logger.Info("Provider switched from %s to %s", previous.Provider, s.Provider)
	return stopErr
}

// Settings returns the current settings.
func (m *Manager) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// Boxes returns the boxes drawn during the last tick.
func (m *Manager) Boxes() []model.Rect {
	return m.renderer.Boxes()
}

// Status reports the loop state and counters.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		Running:          m.running,
		Provider:         m.settings.Provider.String(),
		SourceLive:       m.source != nil,
		MinBoxConfidence: m.settings.MinBoxConfidence,
		Ticks:            m.ticks,
		Failures:         m.failures,
		LastResults:      m.lastResults,
		LastTick:         m.lastTick,
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

// Run ticks at the configured interval until ctx is cancelled. Per-tick
// failures are logged and the loop carries on. Ticks are skipped quietly while
// the Manager is stopped.
func (m *Manager) Run(ctx context.Context) error {
	ticker := m.clock.Ticker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := m.Tick(ctx)
			switch {
			case err == nil, errors.Is(err, ErrNotRunning):
			case errors.Is(err, context.Canceled):
				return nil
			default:
				m.logger.Warning("Tick failed: %v", err)
			}
		}
	}
}
