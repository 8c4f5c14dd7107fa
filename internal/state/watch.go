package state

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watch calls fn with the current snapshot and again each time the file at
// path changes to a different snapshot, until ctx is done. ok is false while
// the file does not exist.
//
// The parent directory is watched rather than the file because FileStore
// replaces the file on every save.
func Watch(ctx context.Context, path string, logger logrus.FieldLogger, fn func(c CountState, ok bool)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	name := filepath.Clean(path)

	var (
		last    CountState
		lastOK  bool
		emitted bool
	)
	emit := func() {
		c, ok, err := ReadSnapshot(path)
		if err != nil {
			logger.WithError(err).Warn("failed to read snapshot")
			return
		}
		if emitted && c == last && ok == lastOK {
			return
		}
		last, lastOK, emitted = c, ok, true
		fn(c, ok)
	}

	emit()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				emit()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("snapshot watch error")
		}
	}
}
