package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/custodia-labs/folderd/internal/core/domain"
	"github.com/custodia-labs/folderd/internal/core/ports/driven"
	"github.com/custodia-labs/folderd/internal/core/ports/driving"
	"github.com/custodia-labs/folderd/internal/logger"
)

// Ensure SearchService implements the interface.
var _ driving.SearchService = (*SearchService)(nil)

// defaultSearchLimit applies when a request omits the page size.
const defaultSearchLimit = 10

// termBoost is added per distinct query term appearing verbatim in a
// chunk, rewarding exact matches on top of semantic similarity.
const termBoost = 0.02

// SearchService executes chunk-level search and document-level discovery
// against a folder's storage engine. Query embedding runs on the worker
// pool; pagination uses stateless continuation tokens over the ranked
// result set.
type SearchService struct {
	lifecycle driving.LifecycleService
	pool      driven.WorkerPool
}

// NewSearchService creates the search engine.
func NewSearchService(lifecycle driving.LifecycleService, pool driven.WorkerPool) *SearchService {
	return &SearchService{lifecycle: lifecycle, pool: pool}
}

// SearchChunks embeds the query and returns the nearest chunks with text,
// key phrases and relevance scores.
func (s *SearchService) SearchChunks(ctx context.Context, req domain.SearchRequest) (*domain.ChunkSearchResponse, error) {
	start := time.Now()

	store, folder, offset, limit, err := s.prepare(ctx, req, "chunks")
	if err != nil {
		return nil, err
	}

	query, err := s.embedQuery(ctx, folder.Model, req.Query)
	if err != nil {
		return nil, err
	}

	// Rank the full collection. The candidate set must not depend on the
	// requested page: term boosting reorders hits after the vector query,
	// and a page-sized truncation would let a boosted chunk near the cut
	// shuffle rows across page boundaries. The store's scan is exhaustive
	// either way.
	hits, err := store.SearchChunkVectors(ctx, query, math.MaxInt)
	if err != nil {
		return nil, fmt.Errorf("chunk search: %w", err)
	}

	terms := queryTerms(req.Query)
	scored := make([]domain.ChunkHit, 0, len(hits))
	for _, hit := range hits {
		chunk, err := store.GetChunk(ctx, hit.ChunkID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("fetch chunk: %w", err)
		}
		doc, err := store.GetDocument(ctx, hit.DocumentID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("fetch document: %w", err)
		}

		score := relevance(hit.Distance)
		score = clamp01(score + boostFor(chunk.Content, terms))

		scored = append(scored, domain.ChunkHit{
			ChunkID:     chunk.ID,
			DocumentID:  doc.ID,
			RelPath:     doc.RelPath,
			Position:    chunk.Position,
			Content:     chunk.Content,
			Score:       score,
			KeyPhrases:  chunk.KeyPhrases,
			Readability: chunk.Readability,
		})
	}

	// Rank by score descending; equal scores tie-break by chunk id
	// ascending so paging order is stable.
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ChunkID < scored[j].ChunkID
	})

	page, cont := paginate(len(scored), offset, limit, s.signature(req, "chunks"))
	resp := &domain.ChunkSearchResponse{
		Results:      scored[page.lo:page.hi],
		Continuation: cont,
		Statistics: domain.SearchStatistics{
			TotalMatched: len(scored),
			ElapsedMS:    time.Since(start).Milliseconds(),
		},
	}
	logger.Debug("search: %q -> %d chunks (%d in page)", req.Query, len(scored), page.hi-page.lo)
	return resp, nil
}

// FindDocuments embeds the query and returns the nearest documents,
// enriched per request with aggregate chunk statistics.
func (s *SearchService) FindDocuments(ctx context.Context, req domain.SearchRequest) (*domain.DocumentSearchResponse, error) {
	start := time.Now()

	store, folder, offset, limit, err := s.prepare(ctx, req, "documents")
	if err != nil {
		return nil, err
	}

	query, err := s.embedQuery(ctx, folder.Model, req.Query)
	if err != nil {
		return nil, err
	}

	// Like chunk search, rank the full collection so that equal scores
	// reached from different distances keep one total order regardless
	// of the page being served.
	hits, err := store.SearchDocumentVectors(ctx, query, math.MaxInt)
	if err != nil {
		return nil, fmt.Errorf("document search: %w", err)
	}

	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.DocumentID)
	}
	aggregates, err := store.DocumentAggregates(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("document aggregates: %w", err)
	}

	scored := make([]domain.DocumentHit, 0, len(hits))
	for _, hit := range hits {
		doc, err := store.GetDocument(ctx, hit.DocumentID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("fetch document: %w", err)
		}

		agg := aggregates[hit.DocumentID]
		scored = append(scored, domain.DocumentHit{
			DocumentID:     doc.ID,
			RelPath:        doc.RelPath,
			Score:          relevance(hit.Distance),
			ChunkCount:     agg.ChunkCount,
			AvgReadability: agg.AvgReadability,
			TopKeyPhrases:  agg.TopKeyPhrases,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].DocumentID < scored[j].DocumentID
	})

	page, cont := paginate(len(scored), offset, limit, s.signature(req, "documents"))
	resp := &domain.DocumentSearchResponse{
		Results:      scored[page.lo:page.hi],
		Continuation: cont,
		Statistics: domain.SearchStatistics{
			TotalMatched: len(scored),
			ElapsedMS:    time.Since(start).Milliseconds(),
		},
	}
	logger.Debug("discover: %q -> %d documents (%d in page)", req.Query, len(scored), page.hi-page.lo)
	return resp, nil
}

// prepare resolves the folder store and decodes pagination inputs.
func (s *SearchService) prepare(_ context.Context, req domain.SearchRequest, mode string) (driven.FolderStore, domain.Folder, int, int, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, domain.Folder{}, 0, 0, fmt.Errorf("%w: empty query", domain.ErrInvalidInput)
	}

	store, ok := s.lifecycle.Store(req.FolderPath)
	if !ok {
		return nil, domain.Folder{}, 0, 0, domain.ErrFolderNotConfigured
	}
	model, dim := store.Model()
	folder := domain.Folder{Path: req.FolderPath, Model: model, Dimension: dim}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	offset := 0
	if req.ContinuationToken != "" {
		tok, err := domain.DecodeContinuationToken(req.ContinuationToken)
		if err != nil {
			return nil, domain.Folder{}, 0, 0, err
		}
		if tok.Signature != s.signature(req, mode) {
			return nil, domain.Folder{}, 0, 0, fmt.Errorf("%w: token from a different query", domain.ErrBadContinuation)
		}
		offset = tok.Offset
	}

	return store, folder, offset, limit, nil
}

// embedQuery runs query-mode inference on the worker pool.
func (s *SearchService) embedQuery(ctx context.Context, model, query string) ([]float32, error) {
	select {
	case res := <-s.pool.Submit(ctx, driven.EmbedRequest{
		Model: model,
		Texts: []string{query},
		Kind:  driven.TextKindQuery,
	}):
		if res.Err != nil {
			return nil, fmt.Errorf("embed query: %w", res.Err)
		}
		if len(res.Vectors) != 1 {
			return nil, fmt.Errorf("embed query: got %d vectors", len(res.Vectors))
		}
		return res.Vectors[0], nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// signature binds a continuation token to its originating query.
func (s *SearchService) signature(req domain.SearchRequest, mode string) uint64 {
	h := xxhash.New()
	h.WriteString(domain.NormalizePath(req.FolderPath)) //nolint:errcheck
	h.WriteString("\x00")                               //nolint:errcheck
	h.WriteString(strings.TrimSpace(req.Query))         //nolint:errcheck
	h.WriteString("\x00")                               //nolint:errcheck
	h.WriteString(mode)                                 //nolint:errcheck
	return h.Sum64()
}

type pageBounds struct{ lo, hi int }

// paginate slices the ranked result set at the rank offset. Paging
// forward never drops or duplicates a row while underlying data is
// unchanged, because the offset indexes the same deterministic order.
func paginate(total, offset, limit int, sig uint64) (pageBounds, domain.Continuation) {
	lo := offset
	if lo > total {
		lo = total
	}
	hi := lo + limit
	if hi > total {
		hi = total
	}

	cont := domain.Continuation{HasMore: hi < total}
	if cont.HasMore {
		cont.NextToken = domain.ContinuationToken{Offset: hi, Signature: sig}.Encode()
	}
	return pageBounds{lo: lo, hi: hi}, cont
}

// relevance converts cosine distance to a score in [0,1].
func relevance(distance float64) float64 {
	return clamp01(1 - distance)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// queryTerms lower-cases and splits the query for exact-term boosting.
func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(fields))
	seen := make(map[string]bool)
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()")
		if len(f) < 3 || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}
	return terms
}

// boostFor rewards chunks containing query terms verbatim.
func boostFor(content string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	var boost float64
	for _, t := range terms {
		if strings.Contains(lower, t) {
			boost += termBoost
		}
	}
	return boost
}
