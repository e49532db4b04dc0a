package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads runtime-tunable config sections whenever the config file
// changes on disk. Blocks until ctx is done. Editors often write via
// rename, so the parent directory is watched rather than the file itself.
func Watch(ctx context.Context, path string, cfg *Config) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	base := filepath.Base(path)
	var lastReload time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// Editors fire bursts of events per save; collapse them.
			if time.Since(lastReload) < 200*time.Millisecond {
				continue
			}
			lastReload = time.Now()

			next, err := Load(path)
			if err != nil {
				slog.Warn("config reload failed, keeping previous values", "path", path, "error", err)
				continue
			}
			cfg.applyReload(next)
			slog.Info("config reloaded",
				"interrupt_enabled", next.Interrupt.Enabled,
				"max_interruptions", next.Interrupt.Max,
				"dispatch_timeout_sec", next.Dispatch.TimeoutSec,
			)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}
