package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	xlog "github.com/voyagen/iptvmine/internal/log"
)

const watchDebounce = 250 * time.Millisecond

// Watch calls onChange after path is written, created or renamed into place,
// debouncing bursts of events. The parent directory is watched so atomic
// rename-over writes are seen. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, onChange func()) error {
	logger := xlog.WithComponent("config")
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	logger.Info().Str(xlog.FieldEvent, "config.watcher_started").Str("path", abs).Msg("watching sources file")

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Str(xlog.FieldEvent, "config.watcher_stopped").Msg("sources watcher stopped")
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			logger.Debug().Str(xlog.FieldEvent, "config.file_changed").Str("op", ev.Op.String()).Msg("sources file changed")
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, onChange)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Str(xlog.FieldEvent, "config.watcher_error").Msg("sources watcher error")
		}
	}
}
