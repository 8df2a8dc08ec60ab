package driven

import (
	"context"

	"github.com/custodia-labs/folderd/internal/core/domain"
)

// ChunkVectorHit is one nearest-neighbour match from the chunk collection.
// Each vector row carries explicit id attributes rather than positional
// identity, so hits can be joined back to chunks directly.
type ChunkVectorHit struct {
	ChunkID    string
	DocumentID string
	// Distance is the cosine distance to the query (0 = identical).
	Distance float64
}

// DocumentVectorHit is one nearest-neighbour match from the document
// collection.
type DocumentVectorHit struct {
	DocumentID string
	Distance   float64
}

// DocumentAggregate holds per-document statistics computed by a grouped
// join against the document's chunks.
type DocumentAggregate struct {
	DocumentID     string
	ChunkCount     int
	AvgReadability float64
	TopKeyPhrases  []string
}

// StoreStats summarises a store's contents.
type StoreStats struct {
	Documents          int
	Chunks             int
	ChunkEmbeddings    int
	DocumentEmbeddings int
}

// FolderStore is one folder's persistent storage engine: documents,
// chunks, dimension-typed vector collections, and the file-state table.
//
// The store records its (model, dimension) at creation. Opening a store
// whose recorded pair differs from the configured model fails loudly with
// domain.ErrDimensionMismatch; there is no silent migration. Any insert of
// a vector whose length differs from the declared dimension fails with the
// same error, never coerced.
type FolderStore interface {
	// Model returns the (model id, dimension) the store is bound to.
	Model() (string, int)

	// CommitDocument atomically persists a document, its chunks, their
	// embeddings, the document embedding, and the file state in one
	// transaction. Prior chunks and embeddings for the document are
	// removed inside the same transaction, so a file is never left
	// half-indexed.
	CommitDocument(ctx context.Context, doc *domain.Document, chunks []domain.Chunk, state domain.FileState) error

	// MarkDocumentError upserts a document row in errored state without
	// touching its chunks or embeddings, so a failed re-index retains the
	// prior indexed state.
	MarkDocumentError(ctx context.Context, relPath, msg string, state domain.FileState) error

	// GetDocument retrieves a document by id.
	GetDocument(ctx context.Context, id string) (*domain.Document, error)

	// GetDocumentByPath retrieves a document by relative path.
	GetDocumentByPath(ctx context.Context, relPath string) (*domain.Document, error)

	// ListDocuments returns all documents in the store.
	ListDocuments(ctx context.Context) ([]domain.Document, error)

	// CountDocuments returns the number of documents.
	CountDocuments(ctx context.Context) (int, error)

	// GetChunks returns a document's chunks ordered by position.
	GetChunks(ctx context.Context, documentID string) ([]domain.Chunk, error)

	// GetChunk retrieves one chunk by id.
	GetChunk(ctx context.Context, id string) (*domain.Chunk, error)

	// DeleteDocument removes a document and everything derived from it
	// in one ordered transaction: chunk embeddings, then the document
	// embedding, then chunk rows, then the document row. The vector
	// collections have no cascading constraints; the ordering is explicit.
	DeleteDocument(ctx context.Context, id string) error

	// SearchChunkVectors runs a k-nearest-neighbour query over the chunk
	// vector collection.
	SearchChunkVectors(ctx context.Context, query []float32, k int) ([]ChunkVectorHit, error)

	// SearchDocumentVectors runs a k-nearest-neighbour query over the
	// document vector collection.
	SearchDocumentVectors(ctx context.Context, query []float32, k int) ([]DocumentVectorHit, error)

	// DocumentAggregates computes per-document chunk statistics for the
	// given document ids via a grouped join. Computed per request, never
	// cached.
	DocumentAggregates(ctx context.Context, documentIDs []string) (map[string]DocumentAggregate, error)

	// FileStates returns the persisted scan state table.
	FileStates(ctx context.Context) (map[string]domain.FileState, error)

	// DeleteFileState removes one file's scan state.
	DeleteFileState(ctx context.Context, relPath string) error

	// Stats returns row counts for the store's tables.
	Stats(ctx context.Context) (StoreStats, error)

	// Vacuum reclaims space after large deletions.
	Vacuum(ctx context.Context) error

	// Close releases the underlying database handle.
	Close() error
}

// StoreFactory opens and removes per-folder stores.
type StoreFactory interface {
	// Open opens the store for a folder, creating it if absent. The
	// store is validated against the given (model, dimension) pair and
	// opening fails with domain.ErrDimensionMismatch when they differ
	// from a previously recorded pair.
	Open(ctx context.Context, folderPath, model string, dimension int) (FolderStore, error)

	// Remove deletes a folder's store files.
	Remove(ctx context.Context, folderPath string) error
}
