package driving

import (
	"context"

	"github.com/custodia-labs/folderd/internal/core/domain"
)

// FMDMSubscription is one client's view of the snapshot stream. The first
// value delivered on Updates is the full current snapshot; subsequent
// values are newer snapshots in FIFO order for this subscriber.
type FMDMSubscription struct {
	Updates <-chan *domain.FMDM
	Cancel  func()
}

// FMDMService owns the authoritative daemon state snapshot.
type FMDMService interface {
	// Snapshot returns the current immutable snapshot.
	Snapshot() *domain.FMDM

	// Subscribe registers a consumer. The current snapshot is queued
	// before any incremental broadcast.
	Subscribe(connID string) FMDMSubscription

	// AddConnection records a client connection and broadcasts.
	AddConnection(info domain.ConnectionInfo)

	// RemoveConnection drops a client connection and broadcasts.
	RemoveConnection(connID string)

	// SetFolders replaces the folder list and broadcasts.
	SetFolders(folders []domain.FolderInfo)

	// UpdateFolder upserts one folder's broadcast view and broadcasts.
	UpdateFolder(info domain.FolderInfo)

	// RemoveFolder drops a folder from the snapshot and broadcasts.
	RemoveFolder(path string)
}

// DaemonService is the act half of the protocol: mutations against the
// configured folder set. Every act re-validates server-side regardless of
// any prior client-side validation.
type DaemonService interface {
	// ValidateFolder checks a candidate folder path. Read-only and
	// idempotent.
	ValidateFolder(ctx context.Context, path string) domain.ValidationResult

	// AddFolder configures a folder and starts its lifecycle. If the
	// path is an ancestor of configured folders, those descendants are
	// replaced by the ancestor inside the same transaction that persists
	// the add.
	AddFolder(ctx context.Context, path, model string) error

	// RemoveFolder stops a folder's lifecycle, cancels pending work and
	// deletes its storage.
	RemoveFolder(ctx context.Context, path string) error

	// Folders lists the configured folders.
	Folders(ctx context.Context) []domain.Folder
}
