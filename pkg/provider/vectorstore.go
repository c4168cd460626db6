package provider

import (
	"context"

	"github.com/spetr/localchat/pkg/types"
)

// VectorStore stores chunk records and answers nearest-neighbor queries
// over a single named collection.
type VectorStore interface {
	// Name returns the store name (e.g., "sqlitevec").
	Name() string

	// Init opens or creates the collection with the given dimension.
	// An existing collection with another dimension fails with types.ErrDimensionMismatch.
	Init(ctx context.Context, dimensions int) error

	// Dimensions returns the collection dimension, 0 before Init.
	Dimensions() int

	// Upsert inserts or replaces records by key. A batch is applied atomically.
	Upsert(ctx context.Context, records []*types.ChunkRecord) error

	// Delete removes records by key. Missing keys are ignored.
	Delete(ctx context.Context, keys []string) error

	// Search returns the nearest records by cosine similarity, most similar first,
	// ties broken by ascending key.
	Search(ctx context.Context, req *types.SearchRequest) ([]*types.SearchResult, error)

	// Keys returns all record keys for a source name, sorted. Empty name lists every key.
	Keys(ctx context.Context, sourceName string) ([]string, error)

	// Stats returns store statistics.
	Stats(ctx context.Context) (*types.StoreStats, error)

	// Clear removes every record in the collection.
	Clear(ctx context.Context) error

	// Close releases resources and closes connections.
	Close() error
}

// VectorStoreConfig contains configuration for vector stores.
type VectorStoreConfig struct {
	Provider   string // "sqlitevec", "memory"
	Path       string // database or JSON file; empty keeps the memory store in-process
	Collection string // collection name
}
