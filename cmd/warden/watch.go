package main

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// watchConfig warns when the config file changes on disk. Warden does not
// hot-reload: the running supervisor keeps the descriptors it started with,
// and the warning tells the operator a restart is needed.
//
// The parent directory is watched rather than the file itself, because
// editors typically replace files via rename.
func watchConfig(ctx context.Context, path string) (func() error, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name != abs {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					slog.Warn("config changed on disk; restart warden to apply", "path", path)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Debug("config watch", "error", err)
			}
		}
	}()

	return w.Close, nil
}
