package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// uriScheme is the custom URI scheme for folderd resources.
const uriScheme = "folderd://"

// registerResources registers all resource handlers with the MCP server.
func (s *Server) registerResources() {
	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "folders",
		Name:        "folders",
		Description: "List of all indexed folders with their status",
		MIMEType:    "application/json",
	}, s.handleFoldersResource)

	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "models",
		Name:        "models",
		Description: "Embedding models the daemon can serve",
		MIMEType:    "application/json",
	}, s.handleModelsResource)
}

// handleFoldersResource returns the folder list from the current
// daemon snapshot.
func (s *Server) handleFoldersResource(
	_ context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	snapshot := s.ports.FMDM.Snapshot()

	data, err := json.MarshalIndent(snapshot.Folders, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling folders: %w", err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// handleModelsResource returns the available embedding models.
func (s *Server) handleModelsResource(
	_ context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	snapshot := s.ports.FMDM.Snapshot()

	data, err := json.MarshalIndent(snapshot.Models, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling models: %w", err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
