package mcp

import (
	"context"

	"github.com/custodia-labs/folderd/internal/core/domain"
	"github.com/custodia-labs/folderd/internal/core/ports/driving"
)

// mockSearchService is a mock implementation of driving.SearchService.
type mockSearchService struct {
	lastRequest  domain.SearchRequest
	chunkResp    *domain.ChunkSearchResponse
	documentResp *domain.DocumentSearchResponse
	err          error
}

func (m *mockSearchService) SearchChunks(
	_ context.Context,
	req domain.SearchRequest,
) (*domain.ChunkSearchResponse, error) {
	m.lastRequest = req
	if m.err != nil {
		return nil, m.err
	}
	if m.chunkResp == nil {
		return &domain.ChunkSearchResponse{}, nil
	}
	return m.chunkResp, nil
}

func (m *mockSearchService) FindDocuments(
	_ context.Context,
	req domain.SearchRequest,
) (*domain.DocumentSearchResponse, error) {
	m.lastRequest = req
	if m.err != nil {
		return nil, m.err
	}
	if m.documentResp == nil {
		return &domain.DocumentSearchResponse{}, nil
	}
	return m.documentResp, nil
}

// mockFMDMService is a mock implementation of driving.FMDMService.
type mockFMDMService struct {
	snapshot *domain.FMDM
}

func (m *mockFMDMService) Snapshot() *domain.FMDM {
	if m.snapshot == nil {
		return &domain.FMDM{Schema: domain.SchemaVersion}
	}
	return m.snapshot
}

func (m *mockFMDMService) Subscribe(string) driving.FMDMSubscription {
	ch := make(chan *domain.FMDM)
	close(ch)
	return driving.FMDMSubscription{Updates: ch, Cancel: func() {}}
}

func (m *mockFMDMService) AddConnection(domain.ConnectionInfo) {}
func (m *mockFMDMService) RemoveConnection(string)            {}
func (m *mockFMDMService) SetFolders([]domain.FolderInfo)     {}
func (m *mockFMDMService) UpdateFolder(domain.FolderInfo)     {}
func (m *mockFMDMService) RemoveFolder(string)                {}
