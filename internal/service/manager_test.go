package service

import (
	"context"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"yolooverlay/internal/config"
	"yolooverlay/internal/logger/loggertest"
	"yolooverlay/internal/model"
	"yolooverlay/internal/service/overlay"
	"yolooverlay/internal/service/provider"
)

type fakeHandle struct {
	shape  image.Point
	closes int
}

func (h *fakeHandle) InputShape() image.Point { return h.shape }
func (h *fakeHandle) Close() error {
	h.closes++
	return nil
}

type fakeEngine struct {
	mu         sync.Mutex
	results    []model.DetectionResult
	err        error
	thresholds []float64
}

func (e *fakeEngine) Run(frame gocv.Mat, minConfidence float64) ([]model.DetectionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.thresholds = append(e.thresholds, minConfidence)
	return e.results, e.err
}

type fakeBackend struct {
	handle  *fakeHandle
	engine  *fakeEngine
	loadErr error
	bindErr error
	loads   int
}

func (b *fakeBackend) Load() (ModelHandle, error) {
	b.loads++
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	return b.handle, nil
}

func (b *fakeBackend) Bind(ModelHandle) (Engine, error) {
	if b.bindErr != nil {
		return nil, b.bindErr
	}
	return b.engine, nil
}

// sources tracks every fake provider built by a factory.
type sources struct {
	mu        sync.Mutex
	built     []*fakeSource
	live      int
	buildErrs map[provider.Kind]error
	startErrs map[provider.Kind]error
	textErr   error
	events    []string
}

func (s *sources) factory(kind provider.Kind, settings provider.Settings, width, height int) (provider.Provider, error) {
	if kind != provider.KindWebCam && kind != provider.KindVideo {
		return nil, errors.Wrapf(provider.ErrUnknownKind, "%d", int(kind))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.buildErrs[kind]; err != nil {
		return nil, err
	}
	src := &fakeSource{owner: s, kind: kind, settings: settings, size: image.Pt(width, height)}
	s.built = append(s.built, src)
	s.events = append(s.events, "build "+kind.String())
	return src, nil
}

func (s *sources) liveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

type fakeSource struct {
	owner    *sources
	kind     provider.Kind
	settings provider.Settings
	size     image.Point
	frame    gocv.Mat
	started  bool
	starts   int
	stops    int
}

func (f *fakeSource) Kind() provider.Kind { return f.kind }

func (f *fakeSource) Start() error {
	f.owner.mu.Lock()
	defer f.owner.mu.Unlock()
	f.starts++
	if err := f.owner.startErrs[f.kind]; err != nil {
		return err
	}
	f.frame = gocv.NewMatWithSize(f.size.Y, f.size.X, gocv.MatTypeCV8UC3)
	f.started = true
	f.owner.live++
	f.owner.events = append(f.owner.events, "start "+f.kind.String())
	return nil
}

func (f *fakeSource) Texture() (gocv.Mat, error) {
	if f.owner.textErr != nil {
		return gocv.Mat{}, f.owner.textErr
	}
	if !f.started {
		return gocv.Mat{}, provider.ErrNotStarted
	}
	return f.frame, nil
}

func (f *fakeSource) Stop() error {
	f.owner.mu.Lock()
	defer f.owner.mu.Unlock()
	f.stops++
	if !f.started {
		return nil
	}
	f.started = false
	f.owner.live--
	f.owner.events = append(f.owner.events, "stop "+f.kind.String())
	return f.frame.Close()
}

type fakePresenter struct {
	calls  int
	shapes []overlay.Shape
}

func (p *fakePresenter) Present(frame gocv.Mat, shapes []overlay.Shape) error {
	p.calls++
	p.shapes = shapes
	return nil
}

type fakeSink struct {
	frames []string
}

func (s *fakeSink) AddFrame(frame gocv.Mat, source string, results []model.DetectionResult) {
	s.frames = append(s.frames, source)
}

type fixture struct {
	manager   *Manager
	backend   *fakeBackend
	sources   *sources
	presenter *fakePresenter
	sink      *fakeSink
	clock     *clock.Mock
}

func newFixture(t *testing.T, kind provider.Kind) *fixture {
	f := &fixture{
		backend: &fakeBackend{
			handle: &fakeHandle{shape: image.Pt(64, 48)},
			engine: &fakeEngine{},
		},
		sources:   &sources{},
		presenter: &fakePresenter{},
		sink:      &fakeSink{},
		clock:     clock.NewMock(),
	}
	settings := Settings{
		MinBoxConfidence: 0.3,
		Provider:         kind,
		LabelColor:       color.RGBA{G: 0xff, A: 0xff},
		Display:          image.Pt(640, 480),
	}
	f.manager = NewManager(settings, 10*time.Millisecond, Dependencies{
		Backend:   f.backend,
		Factory:   f.sources.factory,
		Presenter: f.presenter,
		Snapshots: f.sink,
		Clock:     f.clock,
		Logger:    loggertest.New(t),
	})
	t.Cleanup(func() { _ = f.manager.Stop() })
	return f
}

func TestManager_StartStop(t *testing.T) {
	f := newFixture(t, provider.KindWebCam)

	require.NoError(t, f.manager.Start())
	assert.True(t, f.manager.Status().Running)
	assert.Equal(t, 1, f.sources.liveCount())
	require.Len(t, f.sources.built, 1)
	assert.Equal(t, image.Pt(64, 48), f.sources.built[0].size)

	// starting twice does not acquire anything new
	require.NoError(t, f.manager.Start())
	assert.Equal(t, 1, f.backend.loads)

	require.NoError(t, f.manager.Stop())
	require.NoError(t, f.manager.Stop())

	assert.Equal(t, 0, f.sources.liveCount())
	assert.Equal(t, 1, f.backend.handle.closes)
	st := f.manager.Status()
	assert.False(t, st.Running)
	assert.False(t, st.SourceLive)
}

func TestManager_StartModelLoadFailure(t *testing.T) {
	f := newFixture(t, provider.KindWebCam)
	f.backend.loadErr = errors.New("no such model")

	err := f.manager.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such model")
	assert.Empty(t, f.sources.built)
	assert.Nil(t, f.manager.handle)

	assert.NoError(t, f.manager.Stop())
	assert.ErrorIs(t, f.manager.Tick(context.Background()), ErrNotRunning)
}

func TestManager_StartUnknownProvider(t *testing.T) {
	f := newFixture(t, provider.Kind(42))

	err := f.manager.Start()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))
	assert.Equal(t, 1, f.backend.handle.closes)
	assert.False(t, f.manager.Status().Running)
	assert.NoError(t, f.manager.Stop())
}

func TestManager_StartSourceFailure(t *testing.T) {
	f := newFixture(t, provider.KindVideo)
	f.sources.startErrs = map[provider.Kind]error{provider.KindVideo: errors.New("cannot open file")}

	require.Error(t, f.manager.Start())
	assert.Equal(t, 0, f.sources.liveCount())
	assert.Equal(t, 1, f.backend.handle.closes)
	assert.Equal(t, 1, f.sources.built[0].stops)
	assert.NoError(t, f.manager.Stop())
}

func TestManager_BindFailure(t *testing.T) {
	f := newFixture(t, provider.KindWebCam)
	f.backend.bindErr = errors.New("bad engine")

	require.Error(t, f.manager.Start())
	assert.Equal(t, 1, f.backend.handle.closes)
	assert.Empty(t, f.sources.built)
}

func TestManager_ReconfigureWhileStoppedRecordsPendingKind(t *testing.T) {
	f := newFixture(t, provider.KindWebCam)

	s := f.manager.Settings()
	s.Provider = provider.KindVideo
	require.NoError(t, f.manager.Reconfigure(s))

	assert.Empty(t, f.sources.built)
	assert.Equal(t, provider.KindVideo, f.manager.Settings().Provider)
	assert.Equal(t, "video", f.manager.Status().Provider)

	require.NoError(t, f.manager.Start())
	require.Len(t, f.sources.built, 1)
	assert.Equal(t, provider.KindVideo, f.sources.built[0].kind)
}

func TestManager_ReconfigureWhileRunningSwapsSource(t *testing.T) {
	f := newFixture(t, provider.KindWebCam)
	require.NoError(t, f.manager.Start())

	s := f.manager.Settings()
	s.Provider = provider.KindVideo
	require.NoError(t, f.manager.Reconfigure(s))

	assert.Equal(t, 1, f.sources.liveCount())
	require.Len(t, f.sources.built, 2)
	assert.Equal(t, 1, f.sources.built[0].stops)
	assert.Equal(t, 1, f.sources.built[1].starts)
	assert.Equal(t, []string{"build webcam", "start webcam", "build video", "stop webcam", "start video"}, f.sources.events)

	// the model handle persists across provider changes
	assert.Equal(t, 1, f.backend.loads)
	assert.Equal(t, 0, f.backend.handle.closes)

	// same kind again is a no-op
	require.NoError(t, f.manager.Reconfigure(s))
	assert.Len(t, f.sources.built, 2)

	// flipping back and forth never leaves two live sources
	for i := 0; i < 5; i++ {
		s.Provider = provider.Kind(i % 2)
		require.NoError(t, f.manager.Reconfigure(s))
		assert.Equal(t, 1, f.sources.liveCount())
	}
}

func TestManager_ReconfigureKeepsSourceWhenBuildFails(t *testing.T) {
	f := newFixture(t, provider.KindWebCam)
	f.sources.buildErrs = map[provider.Kind]error{provider.KindVideo: errors.New("video provider needs a file path")}
	require.NoError(t, f.manager.Start())

	s := f.manager.Settings()
	s.Provider = provider.KindVideo
	s.MinBoxConfidence = 0.8
	assert.ErrorIs(t, f.manager.Reconfigure(s), ErrInvalidConfiguration)

	assert.Equal(t, 1, f.sources.liveCount())
	assert.Equal(t, 0, f.sources.built[0].stops)
	assert.Equal(t, provider.KindWebCam, f.manager.Settings().Provider)
	assert.Equal(t, 0.3, f.manager.Settings().MinBoxConfidence)
	assert.True(t, f.manager.Status().SourceLive)
	assert.NoError(t, f.manager.Tick(context.Background()))
}

func TestManager_ReconfigureRestoresSourceWhenStartFails(t *testing.T) {
	f := newFixture(t, provider.KindWebCam)
	f.sources.startErrs = map[provider.Kind]error{provider.KindVideo: errors.New("cannot open file")}
	require.NoError(t, f.manager.Start())

	s := f.manager.Settings()
	s.Provider = provider.KindVideo
	require.Error(t, f.manager.Reconfigure(s))

	assert.Equal(t, 1, f.sources.liveCount())
	assert.Equal(t, 2, f.sources.built[0].starts)
	assert.Equal(t, provider.KindWebCam, f.manager.Settings().Provider)
	assert.Equal(t, []string{"build webcam", "start webcam", "build video", "stop webcam", "start webcam"}, f.sources.events)
	assert.NoError(t, f.manager.Tick(context.Background()))
}

func TestManager_ReconfigureRebuildsOnSourceSettings(t *testing.T) {
	f := newFixture(t, provider.KindVideo)
	s := f.manager.Settings()
	s.Source = provider.Settings{VideoPath: "a.mp4"}
	require.NoError(t, f.manager.Reconfigure(s))
	require.NoError(t, f.manager.Start())
	require.Len(t, f.sources.built, 1)
	assert.Equal(t, "a.mp4", f.sources.built[0].settings.VideoPath)

	// same kind with a new file path restarts the source
	s.Source = provider.Settings{VideoPath: "b.mp4", Loop: true}
	require.NoError(t, f.manager.Reconfigure(s))
	require.Len(t, f.sources.built, 2)
	assert.Equal(t, provider.Settings{VideoPath: "b.mp4", Loop: true}, f.sources.built[1].settings)
	assert.Equal(t, 1, f.sources.built[0].stops)
	assert.Equal(t, 1, f.sources.liveCount())

	// unchanged options leave the source alone
	s.MinBoxConfidence = 0.5
	require.NoError(t, f.manager.Reconfigure(s))
	assert.Len(t, f.sources.built, 2)
	assert.Equal(t, 0.5, f.manager.Settings().MinBoxConfidence)
}

func TestManager_ReconfigureRejectsUnknownKind(t *testing.T) {
	f := newFixture(t, provider.KindWebCam)

	s := f.manager.Settings()
	s.Provider = provider.Kind(7)
	assert.ErrorIs(t, f.manager.Reconfigure(s), ErrInvalidConfiguration)
	assert.Equal(t, provider.KindWebCam, f.manager.Settings().Provider)
}

func TestManager_ReconfigureClampsThreshold(t *testing.T) {
	f := newFixture(t, provider.KindWebCam)

	s := f.manager.Settings()
	s.MinBoxConfidence = 1.7
	s.Display = image.Point{}
	require.NoError(t, f.manager.Reconfigure(s))
	assert.Equal(t, 1.0, f.manager.Settings().MinBoxConfidence)
	assert.Equal(t, image.Pt(640, 480), f.manager.Settings().Display)

	s.MinBoxConfidence = -0.2
	require.NoError(t, f.manager.Reconfigure(s))
	assert.Equal(t, 0.0, f.manager.Settings().MinBoxConfidence)
}

func TestManager_Tick(t *testing.T) {
	f := newFixture(t, provider.KindWebCam)
	f.backend.engine.results = []model.DetectionResult{
		{Box: model.Rect{X: 0.1, Y: 0.1, Width: 0.5, Height: 0.5}, Score: 0.9, ClassIndex: 0},
		{Box: model.Rect{X: 0.5, Y: 0.5, Width: 0.25, Height: 0.25}, Score: 0.6, ClassIndex: 6},
	}
	require.NoError(t, f.manager.Start())
	ctx := context.Background()

	require.NoError(t, f.manager.Tick(ctx))
	assert.Len(t, f.manager.Boxes(), 2)
	assert.Equal(t, 1, f.presenter.calls)
	require.Len(t, f.presenter.shapes, 2)
	assert.Equal(t, image.Rect(64, 48, 384, 288), f.presenter.shapes[0].Rect)
	assert.Equal(t, []string{"webcam"}, f.sink.frames)

	// the next call honours a new threshold
	s := f.manager.Settings()
	s.MinBoxConfidence = 0.5
	require.NoError(t, f.manager.Reconfigure(s))
	require.NoError(t, f.manager.Tick(ctx))
	assert.Equal(t, []float64{0.3, 0.5}, f.backend.engine.thresholds)

	// a tick without results empties the retained list
	f.backend.engine.results = nil
	require.NoError(t, f.manager.Tick(ctx))
	assert.Empty(t, f.manager.Boxes())
	assert.Len(t, f.sink.frames, 2)

	st := f.manager.Status()
	assert.Equal(t, uint64(3), st.Ticks)
	assert.Equal(t, uint64(0), st.Failures)
	assert.Equal(t, 0, st.LastResults)
}

func TestManager_TickTextureFailure(t *testing.T) {
	f := newFixture(t, provider.KindVideo)
	f.backend.engine.results = []model.DetectionResult{{Box: model.Rect{Width: 0.5, Height: 0.5}, Score: 0.9}}
	require.NoError(t, f.manager.Start())
	require.NoError(t, f.manager.Tick(context.Background()))

	f.sources.textErr = provider.ErrNoFrame
	err := f.manager.Tick(context.Background())
	assert.ErrorIs(t, err, provider.ErrNoFrame)

	// nothing was drawn or presented for the failed tick
	assert.Equal(t, 1, f.presenter.calls)
	assert.Len(t, f.backend.engine.thresholds, 1)
	st := f.manager.Status()
	assert.Equal(t, uint64(1), st.Failures)
	assert.NotEmpty(t, st.LastError)
}

func TestManager_TickCancelledContext(t *testing.T) {
	f := newFixture(t, provider.KindWebCam)
	require.NoError(t, f.manager.Start())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.manager.Tick(ctx), context.Canceled)
	assert.Equal(t, 0, f.presenter.calls)
}

func TestManager_Run(t *testing.T) {
	f := newFixture(t, provider.KindWebCam)
	require.NoError(t, f.manager.Start())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.manager.Run(ctx) }()

	assert.Eventually(t, func() bool {
		f.clock.Add(10 * time.Millisecond)
		return f.manager.Status().Ticks >= 3
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := &config.Config{
		Provider:         "video",
		MinBoxConfidence: 0.4,
		LabelColor:       color.RGBA{R: 1, A: 0xff},
		DisplayWidth:     800,
		DisplayHeight:    600,
		CameraDevice:     2,
		VideoPath:        "clip.mp4",
		VideoLoop:        true,
	}
	s, err := SettingsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, provider.KindVideo, s.Provider)
	assert.Equal(t, 0.4, s.MinBoxConfidence)
	assert.Equal(t, image.Pt(800, 600), s.Display)
	assert.Equal(t, provider.Settings{Device: 2, VideoPath: "clip.mp4", Loop: true}, s.Source)

	cfg.Provider = "screen"
	_, err = SettingsFromConfig(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}
