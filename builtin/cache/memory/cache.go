// Package memory implements a process-local IngestionCache, used for tests
// and for throwaway runs against the memory vector store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spetr/localchat/pkg/provider"
	"github.com/spetr/localchat/pkg/types"
)

// Cache is an in-memory ingestion cache.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*types.CacheEntry
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]*types.CacheEntry)}
}

// Name returns the cache backend name.
func (c *Cache) Name() string {
	return "memory"
}

// GetKeys returns a copy of the recorded keys for a source.
func (c *Cache) GetKeys(ctx context.Context, sourceID string) (types.KeySet, error) {
	entry, _ := c.GetEntry(ctx, sourceID)
	if entry == nil {
		return types.NewKeySet(), nil
	}
	return entry.Keys, nil
}

// GetEntry returns a copy of the entry for a source, or nil.
func (c *Cache) GetEntry(ctx context.Context, sourceID string) (*types.CacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[sourceID]
	if !ok {
		return nil, nil
	}
	out := *e
	out.Keys = types.NewKeySet(e.Keys.Sorted()...)
	return &out, nil
}

// RecordKeys replaces the key set and version for a source.
func (c *Cache) RecordKeys(ctx context.Context, sourceID, version string, keys types.KeySet) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[sourceID] = &types.CacheEntry{
		SourceID:  sourceID,
		Version:   version,
		Keys:      types.NewKeySet(keys.Sorted()...),
		UpdatedAt: time.Now(),
	}
	return nil
}

// DeleteSource removes the entry for a source.
func (c *Cache) DeleteSource(ctx context.Context, sourceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sourceID)
	return nil
}

// ListSources returns all known source ids, sorted.
func (c *Cache) ListSources(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close releases resources.
func (c *Cache) Close() error {
	return nil
}

var _ provider.IngestionCache = (*Cache)(nil)
