package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/aethra/lowcode/internal/generator"
)

// Watch reloads the registry when a model file changes. Events are
// debounced; the watcher stops when ctx is cancelled.
func (r *Registry) Watch(ctx context.Context, debounce time.Duration) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	for _, dir := range r.dirs() {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := w.Add(dir); err != nil {
			w.Close()
			return fmt.Errorf("failed to watch directory %s: %w", dir, err)
		}
		r.logger.Debug("watching model directory", zap.String("dir", dir))
	}

	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	go r.watch(ctx, w, debounce)
	return nil
}

func (r *Registry) watch(ctx context.Context, w *fsnotify.Watcher, debounce time.Duration) {
	defer w.Close()

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Ext(event.Name) != generator.Extension {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			r.compiler.Invalidate(event.Name)
			timer.Reset(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			r.logger.Warn("model watcher error", zap.Error(err))

		case <-timer.C:
			if _, err := r.Reload(ctx); err != nil {
				r.logger.Error("reload after file change failed", zap.Error(err))
			}
		}
	}
}
