// Package mcp provides an MCP (Model Context Protocol) server adapter
// for folderd. It lets AI assistants query the daemon's folder indexes.
package mcp

import "errors"

// ErrMissingSearchService is returned when the search service is not provided.
var ErrMissingSearchService = errors.New("mcp: search service is required")

// ErrMissingFMDMService is returned when the FMDM service is not provided.
var ErrMissingFMDMService = errors.New("mcp: fmdm service is required")
