package assetcache

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for more changes.
const DefaultDebounce = 500 * time.Millisecond

// Updater applies a new manifest. Implemented by *Manager.
type Updater interface {
	Update(ctx context.Context, m Manifest) (bool, error)
}

// Watcher reloads the manifest file when it changes and hands it to an
// Updater, so a version bump on disk rolls out a new cache generation.
type Watcher struct {
	file     string
	updater  Updater
	debounce time.Duration
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
}

// NewWatcher watches file. The containing directory is watched so editors
// that replace the file by rename are seen.
func NewWatcher(file string, updater Updater, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, fmt.Errorf("watch manifest: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch manifest: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch manifest: %w", err)
	}
	return &Watcher{
		file:     abs,
		updater:  updater,
		debounce: debounce,
		logger:   logger,
		watcher:  fsw,
	}, nil
}

// Run processes file events until ctx is cancelled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	w.logger.Info("manifest watcher started", "file", w.file, "debounce", w.debounce)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.file {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("manifest watcher error", "error", err)

		case <-fire:
			fire = nil
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	m, err := LoadManifest(w.file)
	if err != nil {
		w.logger.Error("manifest reload rejected", "file", w.file, "error", err)
		return
	}
	changed, err := w.updater.Update(ctx, m)
	if err != nil {
		w.logger.Error("cache update failed", "version", m.Version, "error", err)
		return
	}
	if changed {
		w.logger.Info("manifest change rolled out", "version", m.Version)
	} else {
		w.logger.Debug("manifest unchanged")
	}
}
