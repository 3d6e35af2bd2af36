package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// Watcher reloads the configuration whenever its .env file changes.
type Watcher struct {
	path     string
	delay    time.Duration
	onChange func(*Config)
	onError  func(error)
}

// NewWatcher creates a Watcher for path. Bursts of file events within delay
// collapse into a single reload.
func NewWatcher(path string, delay time.Duration, onChange func(*Config), onError func(error)) *Watcher {
	if onError == nil {
		onError = func(error) {}
	}
	return &Watcher{path: path, delay: delay, onChange: onChange, onError: onError}
}

// Run blocks until ctx is cancelled. The parent directory is watched so that
// editors replacing the file by rename are still noticed.
func (w *Watcher) Run(ctx context.Context) error {
	if w.path == "" {
		<-ctx.Done()
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create config watcher")
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return errors.Wrapf(err, "failed to watch %s", dir)
	}

	target := filepath.Clean(w.path)
	debounced := debounce.New(w.delay)
	reload := func() {
		cfg, err := Load(w.path)
		if err != nil {
			w.onError(err)
			return
		}
		w.onChange(cfg)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				debounced(reload)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.onError(err)
		}
	}
}
