// Package domain contains the core business types for folderd: folders,
// documents, chunks, the FMDM snapshot, and search results. It has no
// dependencies on infrastructure.
package domain
