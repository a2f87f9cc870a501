package models

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// debounceWindow coalesces the editor write/rename bursts some tools produce.
const debounceWindow = 250 * time.Millisecond

// Watch reloads the catalog whenever its file changes, until ctx is done.
// Errors during reload keep the previous catalog in place.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory, not the file: rename-and-replace writes would
	// otherwise detach the watch.
	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		var pending *time.Timer
		reload := func() {
			if err := r.Reload(); err != nil {
				r.logger.Warn("Model catalog reload failed, keeping previous catalog",
					zap.String("path", r.path), zap.Error(err))
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(r.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(debounceWindow, reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("Catalog watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
