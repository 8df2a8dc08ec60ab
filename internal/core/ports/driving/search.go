package driving

import (
	"context"

	"github.com/custodia-labs/folderd/internal/core/domain"
)

// SearchService serves the query endpoints: chunk-level semantic search
// and document-level discovery, both scoped to one folder and paginated
// with stateless continuation tokens.
type SearchService interface {
	// SearchChunks embeds the query and returns the nearest chunks.
	SearchChunks(ctx context.Context, req domain.SearchRequest) (*domain.ChunkSearchResponse, error)

	// FindDocuments embeds the query and returns the nearest documents
	// with per-request aggregate statistics.
	FindDocuments(ctx context.Context, req domain.SearchRequest) (*domain.DocumentSearchResponse, error)
}
