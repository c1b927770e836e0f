package config

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce collapses the burst of write events most editors and
// config-management tools emit for a single logical save into one
// reload, mirroring the debounce in processor/source-ingester's file
// watcher.
const watchDebounce = 250 * time.Millisecond

// Watcher reloads a YAML config file on change and hands the result to
// a callback. Parse failures are logged and otherwise ignored: the
// scheduler keeps running on its last-known-good configuration rather
// than reacting to a transiently half-written file.
type Watcher struct {
	path     string
	logger   *slog.Logger
	fsw      *fsnotify.Watcher
	onChange func(*Config)

	mu    sync.Mutex
	timer *time.Timer
}

// WatchFile starts watching path for changes, invoking onChange with
// the freshly reloaded Config each time the file settles after a
// write. Call Stop to release the underlying fsnotify watcher.
func WatchFile(path string, logger *slog.Logger, onChange func(*Config)) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{path: path, logger: logger, fsw: fsw, onChange: onChange}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(watchDebounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := LoadFromFile(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous configuration", "path", w.path, "error", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Warn("reloaded config failed validation, keeping previous configuration", "path", w.path, "error", err)
		return
	}
	w.logger.Info("config reloaded", "path", w.path)
	w.onChange(cfg)
}

// Stop releases the underlying fsnotify watcher.
func (w *Watcher) Stop() error {
	return w.fsw.Close()
}
