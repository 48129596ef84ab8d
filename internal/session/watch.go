package session

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/qdash-dev/copilot/internal/logger"
	"github.com/qdash-dev/copilot/internal/recovery"
)

// Watch calls fn after the sessions file at path is rewritten, for example by
// `copilot ask` in another terminal. Bursts of events within debounce are
// reported once. The directory is watched rather than the file because Save
// replaces the file by rename. Watch returns once the watcher is running; it
// stops when ctx is done.
func Watch(ctx context.Context, path string, debounce time.Duration, fn func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create sessions watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	name := filepath.Base(path)
	recovery.SafeGo("sessions-watcher", func() {
		defer watcher.Close()

		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != name {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounce)
				} else {
					timer.Reset(debounce)
				}
				fire = timer.C

			case <-fire:
				fire = nil
				fn()

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warnf("sessions watcher error: %v", err)
			}
		}
	})
	return nil
}
