package provider

import (
	"context"

	"github.com/spetr/localchat/pkg/types"
)

// IngestionCache tracks, per source document, the chunk keys currently
// represented in the vector store.
type IngestionCache interface {
	// Name returns the cache backend name.
	Name() string

	// GetKeys returns the recorded keys for a source, or an empty set if unknown.
	GetKeys(ctx context.Context, sourceID string) (types.KeySet, error)

	// GetEntry returns the cache entry for a source, or nil if unknown.
	GetEntry(ctx context.Context, sourceID string) (*types.CacheEntry, error)

	// RecordKeys replaces the key set and version for a source.
	// The write is durable once RecordKeys returns.
	RecordKeys(ctx context.Context, sourceID, version string, keys types.KeySet) error

	// DeleteSource removes the entry for a source.
	DeleteSource(ctx context.Context, sourceID string) error

	// ListSources returns all known source ids, sorted.
	ListSources(ctx context.Context) ([]string, error)

	// Close releases resources.
	Close() error
}

// CacheConfig contains configuration for ingestion caches.
type CacheConfig struct {
	Provider string // "sqlite", "memory"
	Path     string // database file
}
