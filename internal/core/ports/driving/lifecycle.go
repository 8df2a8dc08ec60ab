package driving

import (
	"context"

	"github.com/custodia-labs/folderd/internal/core/domain"
	"github.com/custodia-labs/folderd/internal/core/ports/driven"
)

// LifecycleService drives each folder's scan/index state machine.
type LifecycleService interface {
	// StartFolder begins the Pending -> Scanning -> Indexing -> Active
	// progression for a folder. Returns once the folder is registered;
	// the work runs in the background.
	StartFolder(ctx context.Context, folder domain.Folder) error

	// StopFolder cancels a folder's work. Queued-but-undispatched work
	// is dropped; in-flight results are discarded rather than committed.
	StopFolder(ctx context.Context, path string) error

	// Store exposes a running folder's storage handle for read-only use
	// by the search engine.
	Store(path string) (driven.FolderStore, bool)

	// Close stops all folders.
	Close() error
}
