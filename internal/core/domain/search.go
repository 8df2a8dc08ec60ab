package domain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// SearchRequest configures a chunk-level or document-level query against
// one folder.
type SearchRequest struct {
	// FolderPath selects the folder to query.
	FolderPath string

	// Query is the natural-language search text.
	Query string

	// Limit is the maximum number of results per page.
	Limit int

	// ContinuationToken resumes a previous query at a rank offset.
	ContinuationToken string
}

// ChunkHit is a chunk-level search result.
type ChunkHit struct {
	ChunkID     string   `json:"chunkId"`
	DocumentID  string   `json:"documentId"`
	RelPath     string   `json:"relPath"`
	Position    int      `json:"position"`
	Content     string   `json:"content"`
	Score       float64  `json:"score"`
	KeyPhrases  []string `json:"keyPhrases,omitempty"`
	Readability float64  `json:"readability"`
}

// DocumentHit is a document-level discovery result with per-request
// aggregate statistics.
type DocumentHit struct {
	DocumentID     string   `json:"documentId"`
	RelPath        string   `json:"relPath"`
	Score          float64  `json:"score"`
	ChunkCount     int      `json:"chunkCount"`
	AvgReadability float64  `json:"avgReadability"`
	TopKeyPhrases  []string `json:"topKeyPhrases,omitempty"`
}

// SearchStatistics summarises one search execution.
type SearchStatistics struct {
	TotalMatched int   `json:"totalMatched"`
	ElapsedMS    int64 `json:"elapsedMs"`
}

// Continuation reports whether more pages exist and how to fetch them.
type Continuation struct {
	HasMore   bool   `json:"hasMore"`
	NextToken string `json:"nextToken,omitempty"`
}

// ChunkSearchResponse is one page of chunk-level results.
type ChunkSearchResponse struct {
	Results      []ChunkHit       `json:"results"`
	Statistics   SearchStatistics `json:"statistics"`
	Continuation Continuation     `json:"continuation"`
}

// DocumentSearchResponse is one page of document-level results.
type DocumentSearchResponse struct {
	Results      []DocumentHit    `json:"results"`
	Statistics   SearchStatistics `json:"statistics"`
	Continuation Continuation     `json:"continuation"`
}

// ContinuationToken is the decoded form of the opaque paging token. It is
// stateless: the token alone reconstructs the rank offset, and the query
// signature rejects tokens issued for a different query.
type ContinuationToken struct {
	Offset    int    `json:"offset"`
	Signature uint64 `json:"sig"`
}

// Encode serialises the token into its opaque wire form.
func (t ContinuationToken) Encode() string {
	data, _ := json.Marshal(t)
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeContinuationToken parses an opaque token.
func DecodeContinuationToken(s string) (ContinuationToken, error) {
	var t ContinuationToken
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return t, fmt.Errorf("%w: %w", ErrBadContinuation, err)
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("%w: %w", ErrBadContinuation, err)
	}
	if t.Offset < 0 {
		return t, fmt.Errorf("%w: negative offset", ErrBadContinuation)
	}
	return t, nil
}
