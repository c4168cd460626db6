// Package builtin registers all built-in providers with the default registry.
package builtin

import (
	memoryCache "github.com/spetr/localchat/builtin/cache/memory"
	sqliteCache "github.com/spetr/localchat/builtin/cache/sqlite"
	"github.com/spetr/localchat/builtin/chunking/page"
	"github.com/spetr/localchat/builtin/chunking/paragraph"
	hashEmbed "github.com/spetr/localchat/builtin/embedding/hash"
	ollamaEmbed "github.com/spetr/localchat/builtin/embedding/ollama"
	openaiEmbed "github.com/spetr/localchat/builtin/embedding/openai"
	"github.com/spetr/localchat/builtin/source/pdfdir"
	memoryStore "github.com/spetr/localchat/builtin/vectorstore/memory"
	"github.com/spetr/localchat/builtin/vectorstore/sqlitevec"
	"github.com/spetr/localchat/pkg/provider"
)

func init() {
	// Register embedding providers
	provider.RegisterEmbedding("ollama", func(cfg provider.EmbeddingConfig) (provider.EmbeddingProvider, error) {
		return ollamaEmbed.New(ollamaEmbed.Config{
			Endpoint:   cfg.Endpoint,
			Model:      cfg.Model,
			BatchSize:  cfg.BatchSize,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		}), nil
	})

	provider.RegisterEmbedding("openai", func(cfg provider.EmbeddingConfig) (provider.EmbeddingProvider, error) {
		return openaiEmbed.New(openaiEmbed.Config{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.Endpoint,
			Model:      cfg.Model,
			BatchSize:  cfg.BatchSize,
			Dimensions: cfg.Dimensions,
		}), nil
	})

	provider.RegisterEmbedding("hash", func(cfg provider.EmbeddingConfig) (provider.EmbeddingProvider, error) {
		return hashEmbed.New(hashEmbed.Config{
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
		}), nil
	})

	// Register vector stores
	provider.RegisterVectorStore("sqlitevec", func(cfg provider.VectorStoreConfig) (provider.VectorStore, error) {
		return sqlitevec.New(sqlitevec.Config{Path: cfg.Path, Collection: cfg.Collection}), nil
	})

	provider.RegisterVectorStore("memory", func(cfg provider.VectorStoreConfig) (provider.VectorStore, error) {
		return memoryStore.New(memoryStore.Config{Path: cfg.Path, Collection: cfg.Collection}), nil
	})

	// Register ingestion caches
	provider.RegisterCache("sqlite", func(cfg provider.CacheConfig) (provider.IngestionCache, error) {
		return sqliteCache.Open(cfg.Path)
	})

	provider.RegisterCache("memory", func(cfg provider.CacheConfig) (provider.IngestionCache, error) {
		return memoryCache.New(), nil
	})

	// Register sources
	provider.RegisterSource("pdfdir", func(cfg provider.SourceConfig) (provider.Source, error) {
		return pdfdir.New(pdfdir.Config{
			Dir:         cfg.Dir,
			Include:     cfg.Include,
			MaxFileSize: cfg.MaxFileSize,
		}), nil
	})

	// Register chunking strategies
	provider.RegisterChunking("page", func(cfg provider.ChunkingConfig) (provider.ChunkingStrategy, error) {
		return page.New(), nil
	})

	provider.RegisterChunking("paragraph", func(cfg provider.ChunkingConfig) (provider.ChunkingStrategy, error) {
		return paragraph.New(paragraph.Config{MaxChunkSize: cfg.MaxChunkSize}), nil
	})
}
