package app

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"yolooverlay/internal/config"
	"yolooverlay/internal/logger"
	"yolooverlay/internal/repository/sqlite"
	"yolooverlay/internal/route"
	"yolooverlay/internal/service"
	"yolooverlay/internal/service/ai"
	"yolooverlay/internal/service/overlay"
	"yolooverlay/internal/service/provider"
	"yolooverlay/internal/service/storage"
	"yolooverlay/internal/service/websocket"
)

const (
	configReloadDelay = 500 * time.Millisecond
	shutdownTimeout   = 5 * time.Second
)

type App struct {
	config        *config.Config
	logger        *logger.Logger
	db            *sqlite.DB
	bufferService *storage.BufferService
	hubService    *websocket.HubService
	manager       *service.Manager
	server        *http.Server
}

// NewApp builds every service from cfg. Nothing is started yet.
func NewApp(cfg *config.Config) (*App, error) {
	log, err := logger.NewLogger(cfg.LogDirectory)
	if err != nil {
		return nil, err
	}

	settings, err := service.SettingsFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	labels, err := ai.LoadLabels(cfg.LabelsPath)
	if err != nil {
		return nil, err
	}

	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	snapshotRepo := sqlite.NewSnapshotRepository(db)
	detectionRepo := sqlite.NewDetectionRepository(db)

	buffer := storage.NewBufferService(cfg, labels, log, nil, snapshotRepo, detectionRepo)
	hub := websocket.NewHubService(log)

	manager := service.NewManager(settings, cfg.TickInterval, service.Dependencies{
		Backend: &onnxBackend{
			path:   cfg.ModelPath,
			input:  image.Pt(cfg.ModelInputSize, cfg.ModelInputSize),
			iou:    cfg.IoUThreshold,
			labels: labels,
			logger: log,
		},
		Factory:   provider.New,
		Renderer:  overlay.NewRenderer(),
		Presenter: hub,
		Snapshots: buffer,
		Logger:    log,
	})

	router := route.SetupRoutes(route.Deps{
		Controller:    manager,
		Hub:           hub,
		Archive:       buffer,
		SnapshotRepo:  snapshotRepo,
		DetectionRepo: detectionRepo,
		Logger:        log,
		Config:        cfg,
	})

	return &App{
		config:        cfg,
		logger:        log,
		db:            db,
		bufferService: buffer,
		hubService:    hub,
		manager:       manager,
		server:        &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: router},
	}, nil
}

// Run starts the detection loop and serves HTTP until ctx is cancelled or a
// component fails.
func (a *App) Run(ctx context.Context) (err error) {
	defer func() {
		err = multierr.Combine(err, a.manager.Stop(), a.db.Close())
		_ = a.logger.Sync()
	}()

	if err := a.manager.Start(); err != nil {
		return errors.Wrap(err, "failed to start detection loop")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.hubService.Run(ctx) })
	g.Go(func() error { return a.bufferService.Run(ctx) })
	g.Go(func() error { return a.manager.Run(ctx) })
	g.Go(func() error {
		watcher := config.NewWatcher(a.config.ConfigFile, configReloadDelay, a.reload, func(err error) {
			a.logger.Error("Config reload failed: %v", err)
		})
		return watcher.Run(ctx)
	})
	g.Go(func() error {
		a.logger.Info("Detection server listening on http://localhost:%d", a.config.Port)
		a.logger.Info("Model: %s, snapshots: %s", a.config.ModelPath, a.config.SnapshotDirectory)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "http server failed")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// reload applies a changed .env file to the running loop.
func (a *App) reload(cfg *config.Config) {
	settings, err := service.SettingsFromConfig(cfg)
	if err != nil {
		a.logger.Error("Ignoring reloaded config: %v", err)
		return
	}
	if err := a.manager.Reconfigure(settings); err != nil {
		a.logger.Error("Failed to apply reloaded config: %v", err)
		return
	}
	a.logger.Info("Reloaded configuration from %s", cfg.ConfigFile)
}

// Reindex rebuilds catalogue entries for snapshot files on disk.
func Reindex(cfg *config.Config) (indexed, skipped int, err error) {
	log, err := logger.NewLogger(cfg.LogDirectory)
	if err != nil {
		return 0, 0, err
	}
	defer log.Sync()

	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return 0, 0, err
	}
	defer db.Close()

	buffer := storage.NewBufferService(cfg, nil, log, nil, sqlite.NewSnapshotRepository(db), sqlite.NewDetectionRepository(db))
	return buffer.Reindex()
}
