package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch calls fn with the platform's key each time credentials.toml changes
// to a different value. It blocks until ctx is done.
//
// The parent directory is watched rather than the file so editors that
// replace the file on save are still observed.
func (m *Manager) Watch(ctx context.Context, platform string, log *slog.Logger, fn func(key string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating credentials watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(m.targetPath)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(m.targetPath), err)
	}

	last, err := m.GetKey(platform)
	if err != nil {
		log.Warn("could not read credentials", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(m.targetPath) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}

			key, err := m.GetKey(platform)
			if err != nil {
				log.Warn("could not reload credentials", "error", err)
				continue
			}
			if key == last {
				continue
			}
			last = key
			log.Info("credentials changed", "platform", platform, "configured", key != "")
			fn(key)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("credentials watcher error", "error", err)
		}
	}
}
