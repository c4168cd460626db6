package provider

import (
	"github.com/spetr/localchat/pkg/types"
)

// ChunkingStrategy turns the passages of a document into chunk records.
type ChunkingStrategy interface {
	// Name returns the strategy name (e.g., "page", "paragraph").
	Name() string

	// Chunk builds records without vectors. Keys within the result are unique.
	Chunk(doc types.SourceDocument, passages []types.Passage) []*types.ChunkRecord
}

// ChunkingConfig contains configuration for chunking strategies.
type ChunkingConfig struct {
	Strategy     string // "page", "paragraph"
	MaxChunkSize int    // max characters per chunk
}
