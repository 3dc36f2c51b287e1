package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/llkhacquan/tmux-claude-bridge/internal/logging"
)

var cfgLog = logging.ForComponent(logging.CompConfig)

// Watcher watches a config file and invokes a callback with the freshly
// loaded configuration when it changes. Editors replace files rather than
// writing in place, so the parent directory is watched and events are
// filtered by name and debounced.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher

	ctx    context.Context
	cancel context.CancelFunc

	onReload func(Config)
}

// NewWatcher creates a watcher for the given config file path.
// Call Start() in a goroutine to begin watching.
func NewWatcher(path string, onReload func(Config)) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		path:     path,
		watcher:  watcher,
		ctx:      ctx,
		cancel:   cancel,
		onReload: onReload,
	}, nil
}

// Start begins watching. Must be called in a goroutine.
func (w *Watcher) Start() {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		cfgLog.Warn("config_watch_add_failed",
			slog.String("dir", dir),
			slog.String("error", err.Error()))
		return
	}

	var debounceTimer *time.Timer
	var debounceMu sync.Mutex

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}

			debounceMu.Lock()
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(100*time.Millisecond, w.reload)
			debounceMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			cfgLog.Warn("config_watch_error", slog.String("error", err.Error()))
		}
	}
}

// Stop shuts down the watcher.
func (w *Watcher) Stop() {
	w.cancel()
	_ = w.watcher.Close()
}

func (w *Watcher) reload() {
	cfg, err := LoadFile(w.path)
	if err != nil {
		cfgLog.Warn("config_reload_failed",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
		return
	}

	cfgLog.Info("config_reloaded", slog.String("path", w.path))
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
