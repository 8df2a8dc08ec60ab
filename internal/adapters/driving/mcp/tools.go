package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/folderd/internal/core/domain"
)

// SearchInput is the input schema for both query tools.
type SearchInput struct {
	Folder            string `json:"folder" jsonschema:"absolute path of the indexed folder to search"`
	Query             string `json:"query" jsonschema:"the natural-language search query"`
	Limit             int    `json:"limit,omitempty" jsonschema:"maximum number of results per page (default 10)"`
	ContinuationToken string `json:"continuation_token,omitempty" jsonschema:"token from a previous page to fetch the next one"`
}

// ChunkResultOutput is a single chunk-level result.
type ChunkResultOutput struct {
	ChunkID     string   `json:"chunk_id"`
	DocumentID  string   `json:"document_id"`
	Path        string   `json:"path"`
	Position    int      `json:"position"`
	Content     string   `json:"content"`
	Score       float64  `json:"score"`
	KeyPhrases  []string `json:"key_phrases,omitempty"`
	Readability float64  `json:"readability"`
}

// SearchOutput is the output schema for the search tool.
type SearchOutput struct {
	Results           []ChunkResultOutput `json:"results"`
	Count             int                 `json:"count"`
	TotalMatched      int                 `json:"total_matched"`
	HasMore           bool                `json:"has_more"`
	ContinuationToken string              `json:"continuation_token,omitempty"`
}

// DocumentResultOutput is a single document-level result.
type DocumentResultOutput struct {
	DocumentID     string   `json:"document_id"`
	Path           string   `json:"path"`
	Score          float64  `json:"score"`
	ChunkCount     int      `json:"chunk_count"`
	AvgReadability float64  `json:"avg_readability"`
	TopKeyPhrases  []string `json:"top_key_phrases,omitempty"`
}

// FindDocumentsOutput is the output schema for the find_documents tool.
type FindDocumentsOutput struct {
	Results           []DocumentResultOutput `json:"results"`
	Count             int                    `json:"count"`
	TotalMatched      int                    `json:"total_matched"`
	HasMore           bool                   `json:"has_more"`
	ContinuationToken string                 `json:"continuation_token,omitempty"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search",
		Description: "Semantic search for passages within one indexed folder",
	}, s.handleSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "find_documents",
		Description: "Find whole documents in one indexed folder, ranked by relevance with per-document statistics",
	}, s.handleFindDocuments)
}

// handleSearch handles the search tool invocation.
func (s *Server) handleSearch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	resp, err := s.ports.Search.SearchChunks(ctx, domain.SearchRequest{
		FolderPath:        input.Folder,
		Query:             input.Query,
		Limit:             input.Limit,
		ContinuationToken: input.ContinuationToken,
	})
	if err != nil {
		return nil, SearchOutput{}, err
	}

	output := SearchOutput{
		Results:           make([]ChunkResultOutput, len(resp.Results)),
		Count:             len(resp.Results),
		TotalMatched:      resp.Statistics.TotalMatched,
		HasMore:           resp.Continuation.HasMore,
		ContinuationToken: resp.Continuation.NextToken,
	}
	for i := range resp.Results {
		hit := &resp.Results[i]
		output.Results[i] = ChunkResultOutput{
			ChunkID:     hit.ChunkID,
			DocumentID:  hit.DocumentID,
			Path:        hit.RelPath,
			Position:    hit.Position,
			Content:     hit.Content,
			Score:       hit.Score,
			KeyPhrases:  hit.KeyPhrases,
			Readability: hit.Readability,
		}
	}
	return nil, output, nil
}

// handleFindDocuments handles the find_documents tool invocation.
func (s *Server) handleFindDocuments(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchInput,
) (*mcp.CallToolResult, FindDocumentsOutput, error) {
	resp, err := s.ports.Search.FindDocuments(ctx, domain.SearchRequest{
		FolderPath:        input.Folder,
		Query:             input.Query,
		Limit:             input.Limit,
		ContinuationToken: input.ContinuationToken,
	})
	if err != nil {
		return nil, FindDocumentsOutput{}, err
	}

	output := FindDocumentsOutput{
		Results:           make([]DocumentResultOutput, len(resp.Results)),
		Count:             len(resp.Results),
		TotalMatched:      resp.Statistics.TotalMatched,
		HasMore:           resp.Continuation.HasMore,
		ContinuationToken: resp.Continuation.NextToken,
	}
	for i := range resp.Results {
		hit := &resp.Results[i]
		output.Results[i] = DocumentResultOutput{
			DocumentID:     hit.DocumentID,
			Path:           hit.RelPath,
			Score:          hit.Score,
			ChunkCount:     hit.ChunkCount,
			AvgReadability: hit.AvgReadability,
			TopKeyPhrases:  hit.TopKeyPhrases,
		}
	}
	return nil, output, nil
}
