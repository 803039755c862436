//go:build linux

package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// watchTrigger turns the creation of path into a launch request. The host
// may drop the file into a shared directory instead of signalling us. The
// file is removed on every trigger so it can be created again.
func (s *Supervisor) watchTrigger(ctx context.Context, path string) error {
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	// Watch the directory, the file itself does not exist yet
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	if consumeTrigger(path) {
		slog.Info("Trigger file present at startup", "path", path)
		s.enqueue(ctx, SourceFile)
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				// A create is usually followed by a write; only the first
				// one finds the file to remove.
				if !consumeTrigger(path) {
					continue
				}
				slog.Debug("Trigger file created", "path", path, "event", event.Op.String())
				s.enqueue(ctx, SourceFile)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Trigger file watcher error", "error", err)
			}
		}
	}()

	slog.Info("Watching trigger file", "path", path)
	return nil
}

// consumeTrigger removes the trigger file and reports whether it existed
func consumeTrigger(path string) bool {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove trigger file", "path", path, "error", err)
	}
	return err == nil
}
