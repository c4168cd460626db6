package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCacheFactories(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.HasCache("sqlite"))

	var got CacheConfig
	r.RegisterCache("sqlite", func(cfg CacheConfig) (IngestionCache, error) {
		got = cfg
		return nil, errors.New("boom")
	})
	r.RegisterCache("memory", func(cfg CacheConfig) (IngestionCache, error) {
		return nil, nil
	})

	assert.True(t, r.HasCache("sqlite"))
	assert.Equal(t, []string{"memory", "sqlite"}, r.ListCaches())

	_, err := r.CreateCache("sqlite", CacheConfig{Path: "/tmp/x.db"})
	require.EqualError(t, err, "boom")
	assert.Equal(t, "/tmp/x.db", got.Path)
}

func TestRegistryUnknownProvider(t *testing.T) {
	r := NewRegistry()
	r.RegisterVectorStore("memory", func(cfg VectorStoreConfig) (VectorStore, error) {
		return nil, nil
	})

	_, err := r.CreateVectorStore("qdrant", VectorStoreConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown vector store: qdrant")
	assert.Contains(t, err.Error(), "memory")

	_, err = r.CreateEmbedding("nope", EmbeddingConfig{})
	assert.Error(t, err)
	_, err = r.CreateSource("nope", SourceConfig{})
	assert.Error(t, err)
	_, err = r.CreateChunking("nope", ChunkingConfig{})
	assert.Error(t, err)
}
