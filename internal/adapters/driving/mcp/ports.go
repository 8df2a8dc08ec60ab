package mcp

import (
	"github.com/custodia-labs/folderd/internal/core/ports/driving"
)

// Ports aggregates the driving port interfaces required by the MCP
// server. This provides a single injection point for dependency injection.
type Ports struct {
	// Search serves chunk and document queries.
	Search driving.SearchService

	// FMDM exposes the daemon state snapshot for resources.
	FMDM driving.FMDMService
}

// Validate ensures all required ports are set.
func (p *Ports) Validate() error {
	if p.Search == nil {
		return ErrMissingSearchService
	}
	if p.FMDM == nil {
		return ErrMissingFMDMService
	}
	return nil
}
