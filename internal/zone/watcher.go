package zone

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits after the last file event
// before reloading. Editors often write a file in several steps.
const DefaultDebounce = 250 * time.Millisecond

// ReloadFunc applies a freshly loaded controller file.
type ReloadFunc func(ctx context.Context, f *File) error

// Watcher reloads the controller file when it changes on disk.
//
// The parent directory is watched rather than the file itself so that
// atomic replace-by-rename saves are seen.
type Watcher struct {
	path     string
	reload   ReloadFunc
	debounce time.Duration
	logger   Logger
}

// NewWatcher creates a watcher for path.
func NewWatcher(path string, reload ReloadFunc, logger Logger) *Watcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Watcher{
		path:     filepath.Clean(path),
		reload:   reload,
		debounce: DefaultDebounce,
		logger:   logger,
	}
}

// Run watches until ctx is cancelled. A file that cannot be decoded is
// logged and the running controllers are left untouched. Invalid
// definitions inside a readable file are dropped and the rest is applied.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}

	debounce := time.NewTimer(w.debounce)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-ctx.Done():
			debounce.Stop()
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path || !relevant(event) {
				continue
			}
			debounce.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("controller file watcher error", "error", err)

		case <-debounce.C:
			w.apply(ctx)
		}
	}
}

func relevant(event fsnotify.Event) bool {
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

func (w *Watcher) apply(ctx context.Context) {
	f, err := LoadConfig(w.path)
	if f == nil {
		w.logger.Error("controller file rejected, keeping running controllers",
			"path", w.path,
			"error", err,
		)
		return
	}
	if err != nil {
		w.logger.Warn("controller file has invalid definitions, applying the rest",
			"path", w.path,
			"error", err,
		)
	}

	if err := w.reload(ctx, f); err != nil {
		w.logger.Error("controller file applied with errors", "path", w.path, "error", err)
		return
	}
	w.logger.Info("controller file reloaded", "path", w.path, "controllers", len(f.Controllers))
}
