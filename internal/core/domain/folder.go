package domain

import (
	"path/filepath"
	"strings"
	"time"
)

// FolderStatus is the lifecycle state of a configured folder.
type FolderStatus string

// Folder lifecycle states. A folder moves Pending -> Scanning -> Indexing ->
// Active; Error is reachable from any non-terminal state and Removed is
// terminal.
const (
	FolderStatusPending  FolderStatus = "pending"
	FolderStatusScanning FolderStatus = "scanning"
	FolderStatusIndexing FolderStatus = "indexing"
	FolderStatusActive   FolderStatus = "active"
	FolderStatusError    FolderStatus = "error"
	FolderStatusRemoved  FolderStatus = "removed"
)

// Terminal reports whether the status admits no further transitions.
func (s FolderStatus) Terminal() bool {
	return s == FolderStatusRemoved
}

// Folder is a configured document folder. Its identity is the normalised
// absolute path; comparison is case- and separator-insensitive.
type Folder struct {
	// Path is the absolute path as configured by the user.
	Path string

	// Model is the embedding model id bound to this folder's storage.
	Model string

	// Dimension is the vector size produced by Model.
	// A folder's storage is bound to one (model, dimension) pair for its
	// entire lifetime; changing models requires a rebuild.
	Dimension int

	// Status is the current lifecycle state.
	Status FolderStatus

	// DocumentCount is the number of indexed documents.
	DocumentCount int

	// LastError holds the most recent folder-level error, if any.
	LastError string

	// AddedAt is when the folder was configured.
	AddedAt time.Time
}

// NormalizePath canonicalises a folder path for identity comparison:
// cleaned, forward slashes, lower-cased, no trailing separator.
func NormalizePath(path string) string {
	p := filepath.ToSlash(filepath.Clean(path))
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		p = "/"
	}
	return strings.ToLower(p)
}

// PathsEqual reports whether two paths identify the same folder.
func PathsEqual(a, b string) bool {
	return NormalizePath(a) == NormalizePath(b)
}

// IsAncestorPath reports whether ancestor strictly contains descendant.
// Containment is resolved on normalised paths with a separator boundary,
// so "/data/docs" does not contain "/data/docs2".
func IsAncestorPath(ancestor, descendant string) bool {
	a := NormalizePath(ancestor)
	d := NormalizePath(descendant)
	if a == d {
		return false
	}
	if a == "/" {
		return strings.HasPrefix(d, "/")
	}
	return strings.HasPrefix(d, a+"/")
}
