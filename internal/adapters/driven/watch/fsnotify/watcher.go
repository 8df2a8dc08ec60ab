// Package fsnotify watches folder trees for file changes using OS-level
// notifications.
package fsnotify

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/folderd/internal/core/ports/driven"
)

// Ensure Watcher implements the interface.
var _ driven.FolderWatcher = (*Watcher)(nil)
var _ driven.WatcherFactory = (*Factory)(nil)

// eventBuffer absorbs bursts between OS delivery and the consumer.
const eventBuffer = 256

// Factory creates one OS watcher per folder.
type Factory struct{}

// NewFactory creates a watcher factory.
func NewFactory() *Factory {
	return &Factory{}
}

// New creates an unstarted folder watcher.
func (f *Factory) New() (driven.FolderWatcher, error) {
	inner, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	return &Watcher{inner: inner}, nil
}

// Watcher delivers file change events for one folder tree. fsnotify does
// not watch recursively, so every subdirectory is registered explicitly
// and newly created directories are added as they appear.
type Watcher struct {
	inner *fsnotify.Watcher
	root  string
}

// Watch starts watching folderPath and returns the event stream.
func (w *Watcher) Watch(ctx context.Context, folderPath string) (<-chan driven.FileEvent, error) {
	w.root = folderPath

	if err := w.addTree(folderPath); err != nil {
		return nil, err
	}

	events := make(chan driven.FileEvent, eventBuffer)
	go w.run(ctx, events)
	return events, nil
}

// addTree registers a directory and all its subdirectories, skipping
// hidden directories.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			// A directory may vanish between listing and visiting.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if name := entry.Name(); strings.HasPrefix(name, ".") && path != dir {
			return filepath.SkipDir
		}
		if err := w.inner.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context, out chan<- driven.FileEvent) {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.inner.Events:
			if !ok {
				return
			}
			fileEvent, deliver := w.translate(event)
			if !deliver {
				continue
			}
			select {
			case out <- fileEvent:
			case <-ctx.Done():
				return
			}

		case _, ok := <-w.inner.Errors:
			// Watch errors are transient (e.g. a raced directory removal);
			// the periodic rescan path catches anything missed.
			if !ok {
				return
			}
		}
	}
}

// translate maps one fsnotify event to a folder-relative FileEvent.
// Directory creations extend the watch set instead of producing events.
func (w *Watcher) translate(event fsnotify.Event) (driven.FileEvent, bool) {
	relPath, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return driven.FileEvent{}, false
	}
	relPath = filepath.ToSlash(relPath)
	if relPath == "." || isHidden(relPath) {
		return driven.FileEvent{}, false
	}

	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addTree(event.Name)
			return driven.FileEvent{}, false
		}
	}

	switch {
	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		return driven.FileEvent{RelPath: relPath, Removed: true}, true
	case event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write):
		return driven.FileEvent{RelPath: relPath}, true
	default:
		// Chmod-only events carry no content change.
		return driven.FileEvent{}, false
	}
}

// isHidden reports whether any path segment is a dot entry.
func isHidden(relPath string) bool {
	for _, segment := range strings.Split(relPath, "/") {
		if strings.HasPrefix(segment, ".") {
			return true
		}
	}
	return false
}

// Close stops watching and releases OS resources.
func (w *Watcher) Close() error {
	return w.inner.Close()
}
