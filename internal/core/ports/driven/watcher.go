package driven

import "context"

// FileEvent is one file-system change notification under a watched folder.
type FileEvent struct {
	// RelPath is the changed file's path relative to the folder root.
	RelPath string

	// Removed is true when the file was deleted or renamed away.
	Removed bool
}

// FolderWatcher delivers debounced change notifications for one folder.
// Events drive single-file incremental re-scans, never full re-scans.
type FolderWatcher interface {
	// Watch starts watching the folder tree and returns the event
	// stream. The stream closes when ctx is cancelled or Close is called.
	Watch(ctx context.Context, folderPath string) (<-chan FileEvent, error)

	// Close stops watching and releases OS resources.
	Close() error
}

// WatcherFactory creates one watcher per folder.
type WatcherFactory interface {
	New() (FolderWatcher, error)
}
