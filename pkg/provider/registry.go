package provider

import (
	"fmt"
	"sort"
	"sync"
)

// EmbeddingFactory creates an EmbeddingProvider from configuration.
type EmbeddingFactory func(config EmbeddingConfig) (EmbeddingProvider, error)

// VectorStoreFactory creates a VectorStore from configuration.
type VectorStoreFactory func(config VectorStoreConfig) (VectorStore, error)

// CacheFactory creates an IngestionCache from configuration.
type CacheFactory func(config CacheConfig) (IngestionCache, error)

// SourceFactory creates a Source from configuration.
type SourceFactory func(config SourceConfig) (Source, error)

// ChunkingFactory creates a ChunkingStrategy from configuration.
type ChunkingFactory func(config ChunkingConfig) (ChunkingStrategy, error)

// Registry holds factories for all provider types.
type Registry struct {
	mu sync.RWMutex

	embedding   map[string]EmbeddingFactory
	vectorStore map[string]VectorStoreFactory
	cache       map[string]CacheFactory
	source      map[string]SourceFactory
	chunking    map[string]ChunkingFactory
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		embedding:   make(map[string]EmbeddingFactory),
		vectorStore: make(map[string]VectorStoreFactory),
		cache:       make(map[string]CacheFactory),
		source:      make(map[string]SourceFactory),
		chunking:    make(map[string]ChunkingFactory),
	}
}

// RegisterEmbedding registers an embedding provider factory.
func (r *Registry) RegisterEmbedding(name string, factory EmbeddingFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embedding[name] = factory
}

// RegisterVectorStore registers a vector store factory.
func (r *Registry) RegisterVectorStore(name string, factory VectorStoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vectorStore[name] = factory
}

// RegisterCache registers an ingestion cache factory.
func (r *Registry) RegisterCache(name string, factory CacheFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[name] = factory
}

// RegisterSource registers a source factory.
func (r *Registry) RegisterSource(name string, factory SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.source[name] = factory
}

// RegisterChunking registers a chunking strategy factory.
func (r *Registry) RegisterChunking(name string, factory ChunkingFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunking[name] = factory
}

// CreateEmbedding creates an embedding provider by name.
func (r *Registry) CreateEmbedding(name string, config EmbeddingConfig) (EmbeddingProvider, error) {
	r.mu.RLock()
	factory, ok := r.embedding[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown embedding provider: %s (available: %v)", name, r.ListEmbeddings())
	}
	return factory(config)
}

// CreateVectorStore creates a vector store by name.
func (r *Registry) CreateVectorStore(name string, config VectorStoreConfig) (VectorStore, error) {
	r.mu.RLock()
	factory, ok := r.vectorStore[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown vector store: %s (available: %v)", name, r.ListVectorStores())
	}
	return factory(config)
}

// CreateCache creates an ingestion cache by name.
func (r *Registry) CreateCache(name string, config CacheConfig) (IngestionCache, error) {
	r.mu.RLock()
	factory, ok := r.cache[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown ingestion cache: %s (available: %v)", name, r.ListCaches())
	}
	return factory(config)
}

// CreateSource creates a source by name.
func (r *Registry) CreateSource(name string, config SourceConfig) (Source, error) {
	r.mu.RLock()
	factory, ok := r.source[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown source: %s (available: %v)", name, r.ListSources())
	}
	return factory(config)
}

// CreateChunking creates a chunking strategy by name.
func (r *Registry) CreateChunking(name string, config ChunkingConfig) (ChunkingStrategy, error) {
	r.mu.RLock()
	factory, ok := r.chunking[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown chunking strategy: %s (available: %v)", name, r.ListChunkings())
	}
	return factory(config)
}

// ListEmbeddings returns all registered embedding provider names.
func (r *Registry) ListEmbeddings() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.embedding)
}

// ListVectorStores returns all registered vector store names.
func (r *Registry) ListVectorStores() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.vectorStore)
}

// ListCaches returns all registered ingestion cache names.
func (r *Registry) ListCaches() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.cache)
}

// ListSources returns all registered source names.
func (r *Registry) ListSources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.source)
}

// ListChunkings returns all registered chunking strategy names.
func (r *Registry) ListChunkings() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.chunking)
}

// HasEmbedding checks if an embedding provider is registered.
func (r *Registry) HasEmbedding(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.embedding[name]
	return ok
}

// HasVectorStore checks if a vector store is registered.
func (r *Registry) HasVectorStore(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.vectorStore[name]
	return ok
}

// HasCache checks if an ingestion cache is registered.
func (r *Registry) HasCache(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.cache[name]
	return ok
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global default registry.
var DefaultRegistry = NewRegistry()

// RegisterEmbedding registers an embedding provider in the default registry.
func RegisterEmbedding(name string, factory EmbeddingFactory) {
	DefaultRegistry.RegisterEmbedding(name, factory)
}

// RegisterVectorStore registers a vector store in the default registry.
func RegisterVectorStore(name string, factory VectorStoreFactory) {
	DefaultRegistry.RegisterVectorStore(name, factory)
}

// RegisterCache registers an ingestion cache in the default registry.
func RegisterCache(name string, factory CacheFactory) {
	DefaultRegistry.RegisterCache(name, factory)
}

// RegisterSource registers a source in the default registry.
func RegisterSource(name string, factory SourceFactory) {
	DefaultRegistry.RegisterSource(name, factory)
}

// RegisterChunking registers a chunking strategy in the default registry.
func RegisterChunking(name string, factory ChunkingFactory) {
	DefaultRegistry.RegisterChunking(name, factory)
}
