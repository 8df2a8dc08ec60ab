package domain

import "time"

// DocumentStatus tracks per-file indexing progress.
type DocumentStatus string

// Document indexing states.
const (
	DocumentStatusPending DocumentStatus = "pending"
	DocumentStatusIndexed DocumentStatus = "indexed"
	DocumentStatusErrored DocumentStatus = "errored"
)

// Document is one indexed file within a folder.
type Document struct {
	// ID is the unique identifier for the document.
	ID string

	// RelPath is the path relative to the folder root.
	RelPath string

	// ContentHash is the xxhash of the file content at index time.
	ContentHash string

	// Size is the file size in bytes.
	Size int64

	// ModifiedAt is the file modification time at index time.
	ModifiedAt time.Time

	// Status is the indexing status of this document.
	Status DocumentStatus

	// LastError holds a per-file indexing failure, if any.
	LastError string

	// KeyPhrases are the aggregated key phrases extracted from chunks.
	KeyPhrases []string

	// Embedding is the document-level vector: the mean of its chunks'
	// vectors. Present only after a successful index pass.
	Embedding []float32

	// CreatedAt is when the document was first indexed.
	CreatedAt time.Time

	// UpdatedAt is when the document was last re-indexed.
	UpdatedAt time.Time
}

// Chunk is a bounded segment of a document's text, the unit of embedding
// and fine-grained search. Chunks are created and destroyed atomically with
// their document's re-index.
type Chunk struct {
	// ID is the unique identifier for the chunk.
	ID string

	// DocumentID links to the parent Document.
	DocumentID string

	// Position is the ordinal position within the document.
	Position int

	// Content is the chunk text.
	Content string

	// TokenCount is the approximate token count of Content.
	TokenCount int

	// Embedding is the vector representation for semantic search.
	Embedding []float32

	// Readability is a reading-ease score for the chunk text.
	Readability float64

	// KeyPhrases are phrases extracted by semantic processing.
	KeyPhrases []string

	// SemanticProcessed reports whether semantic extraction succeeded.
	// Extraction failure is non-fatal; the chunk stays flagged unprocessed.
	SemanticProcessed bool
}

// FileState is the persisted scan state of one file, used to classify
// files on incremental scans without re-reading unchanged content.
type FileState struct {
	RelPath     string
	ContentHash string
	Size        int64
	ModifiedAt  time.Time
}

// FileChangeKind classifies a scanned file against its persisted state.
type FileChangeKind string

// Scan diff outcomes.
const (
	FileNew       FileChangeKind = "new"
	FileModified  FileChangeKind = "modified"
	FileUnchanged FileChangeKind = "unchanged"
	FileDeleted   FileChangeKind = "deleted"
)

// FileChange pairs a relative path with its scan classification.
type FileChange struct {
	RelPath string
	Kind    FileChangeKind
	State   FileState
}
