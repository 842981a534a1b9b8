package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceInterval coalesces the burst of filesystem events editors emit
// when saving a file.
const debounceInterval = 500 * time.Millisecond

// Watch reports changes to the configuration file until ctx is canceled.
//
// The provider chains are frozen at startup, so a changed file is not
// reloaded; the watcher's job is telling the operator that the running
// process no longer matches the file on disk. The parent directory is
// watched rather than the file itself because most editors save by rename,
// which would silently detach a file-level watch.
func Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(path)

	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(debounceInterval, func() {
				slog.Warn("configuration file changed on disk; restart to apply",
					"path", target,
				)
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("configuration watcher error", "error", err)
		}
	}
}
