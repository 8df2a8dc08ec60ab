package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/custodia-labs/folderd/internal/core/ports/driven"
)

// SearchChunkVectors runs a k-nearest-neighbour query over the chunk
// vector collection: an exhaustive cosine scan with a deterministic
// ordering (distance ascending, chunk id ascending on ties).
func (s *Store) SearchChunkVectors(ctx context.Context, query []float32, k int) ([]driven.ChunkVectorHit, error) {
	if err := s.checkDimension(query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, "SELECT chunk_id, document_id, vector FROM chunk_embeddings")
	if err != nil {
		return nil, fmt.Errorf("querying chunk vectors: %w", err)
	}
	defer rows.Close()

	var hits []driven.ChunkVectorHit //nolint:prealloc // size unknown from query
	for rows.Next() {
		var chunkID, documentID string
		var blob []byte
		if err := rows.Scan(&chunkID, &documentID, &blob); err != nil {
			return nil, fmt.Errorf("scanning chunk vector: %w", err)
		}
		hits = append(hits, driven.ChunkVectorHit{
			ChunkID:    chunkID,
			DocumentID: documentID,
			Distance:   cosineDistance(query, bytesToFloat32Slice(blob)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunk vectors: %w", err)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// SearchDocumentVectors runs a k-nearest-neighbour query over the
// per-document vector collection.
func (s *Store) SearchDocumentVectors(ctx context.Context, query []float32, k int) ([]driven.DocumentVectorHit, error) {
	if err := s.checkDimension(query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, "SELECT document_id, vector FROM document_embeddings")
	if err != nil {
		return nil, fmt.Errorf("querying document vectors: %w", err)
	}
	defer rows.Close()

	var hits []driven.DocumentVectorHit //nolint:prealloc // size unknown from query
	for rows.Next() {
		var documentID string
		var blob []byte
		if err := rows.Scan(&documentID, &blob); err != nil {
			return nil, fmt.Errorf("scanning document vector: %w", err)
		}
		hits = append(hits, driven.DocumentVectorHit{
			DocumentID: documentID,
			Distance:   cosineDistance(query, bytesToFloat32Slice(blob)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating document vectors: %w", err)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].DocumentID < hits[j].DocumentID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// DocumentAggregates computes per-document chunk statistics for the
// given document ids via a grouped join.
func (s *Store) DocumentAggregates(ctx context.Context, documentIDs []string) (map[string]driven.DocumentAggregate, error) {
	aggregates := make(map[string]driven.DocumentAggregate, len(documentIDs))
	if len(documentIDs) == 0 {
		return aggregates, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(documentIDs)), ",")
	args := make([]any, len(documentIDs))
	for i, id := range documentIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT document_id, COUNT(*), COALESCE(AVG(readability), 0)
		FROM chunks
		WHERE document_id IN (%s)
		GROUP BY document_id
	`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("querying chunk aggregates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var agg driven.DocumentAggregate
		if err := rows.Scan(&agg.DocumentID, &agg.ChunkCount, &agg.AvgReadability); err != nil {
			return nil, fmt.Errorf("scanning chunk aggregate: %w", err)
		}
		aggregates[agg.DocumentID] = agg
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunk aggregates: %w", err)
	}

	phraseRows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT document_id, key_phrases
		FROM chunks
		WHERE document_id IN (%s) AND key_phrases != 'null'
	`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("querying chunk phrases: %w", err)
	}
	defer phraseRows.Close()

	counts := make(map[string]map[string]int)
	for phraseRows.Next() {
		var documentID, phrasesJSON string
		if err := phraseRows.Scan(&documentID, &phrasesJSON); err != nil {
			return nil, fmt.Errorf("scanning chunk phrases: %w", err)
		}
		var phrases []string
		if err := json.Unmarshal([]byte(phrasesJSON), &phrases); err != nil {
			continue
		}
		if counts[documentID] == nil {
			counts[documentID] = make(map[string]int)
		}
		for _, p := range phrases {
			counts[documentID][p]++
		}
	}
	if err := phraseRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunk phrases: %w", err)
	}

	for docID, phraseCounts := range counts {
		agg := aggregates[docID]
		agg.DocumentID = docID
		agg.TopKeyPhrases = topPhrases(phraseCounts, 5)
		aggregates[docID] = agg
	}

	return aggregates, nil
}

// topPhrases orders phrases by frequency descending, ties alphabetical.
func topPhrases(counts map[string]int, limit int) []string {
	phrases := make([]string, 0, len(counts))
	for p := range counts {
		phrases = append(phrases, p)
	}
	sort.Slice(phrases, func(i, j int) bool {
		if counts[phrases[i]] != counts[phrases[j]] {
			return counts[phrases[i]] > counts[phrases[j]]
		}
		return phrases[i] < phrases[j]
	})
	if len(phrases) > limit {
		phrases = phrases[:limit]
	}
	return phrases
}

// cosineDistance is 1 - cosine similarity, in [0, 2]. Zero-magnitude
// vectors are treated as maximally distant.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
