// Package fswatch notifies about changes to individual files.
package fswatch

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/viewsync/pkg/errors"
)

// Watch sends an event on the returned channel whenever one of `files` is
// written, created, renamed or removed. Bursts of changes are combined into a
// single event. The watch stops when the returned Closer is closed.
//
// The parent directories are watched rather than the files themselves, so
// that editors that save by replacing the file are noticed, and so that the
// files don't have to exist yet.
func Watch(files ...string) (<-chan struct{}, io.Closer, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, errors.WithContext(err, "create watcher")
	}

	watched := map[string]struct{}{}
	dirs := map[string]struct{}{}
	for _, file := range files {
		file = filepath.Clean(file)
		watched[file] = struct{}{}

		dir := filepath.Dir(file)
		if _, ok := dirs[dir]; ok {
			continue
		}
		dirs[dir] = struct{}{}

		if err := watcher.Add(dir); err != nil {
			// Release the handles of the directories that were already added.
			if err := watcher.Close(); err != nil {
				log.WithError(err).Warn("Failed to close file watcher")
			}
			return nil, nil, errors.WithContext(err, fmt.Sprintf("watch %q", dir))
		}
	}

	go logErrors(watcher.Errors)
	return combineUpdates(filterEvents(watcher.Events, watched)), watcher, nil
}

func filterEvents(events <-chan fsnotify.Event, files map[string]struct{}) <-chan fsnotify.Event {
	filtered := make(chan fsnotify.Event)
	go func() {
		defer close(filtered)
		for event := range events {
			if _, ok := files[filepath.Clean(event.Name)]; ok && event.Op != fsnotify.Chmod {
				filtered <- event
			}
		}
	}()
	return filtered
}

func combineUpdates(updates <-chan fsnotify.Event) chan struct{} {
	combined := make(chan struct{}, 1)
	go func() {
		defer close(combined)
		for range updates {
			select {
			case combined <- struct{}{}:
			default:
			}
		}
	}()
	return combined
}

func logErrors(errs <-chan error) {
	for err := range errs {
		log.WithError(err).Warn("File watcher error")
	}
}
