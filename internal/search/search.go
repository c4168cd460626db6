// Package search implements semantic search over ingested chunks.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spetr/localchat/pkg/provider"
	"github.com/spetr/localchat/pkg/types"
)

// DefaultTimeout bounds one search including the query embedding.
const DefaultTimeout = 30 * time.Second

// Engine handles search operations.
type Engine struct {
	store     provider.VectorStore
	embedding provider.EmbeddingProvider
	timeout   time.Duration
}

// Config contains search engine configuration.
type Config struct {
	Store     provider.VectorStore
	Embedding provider.EmbeddingProvider
	Timeout   time.Duration // 0 = DefaultTimeout
}

// New creates a new search engine.
func New(cfg Config) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Engine{
		store:     cfg.Store,
		embedding: cfg.Embedding,
		timeout:   cfg.Timeout,
	}
}

// Search embeds query and returns up to maxResults nearest chunks, most
// similar first. A non-empty filename restricts results to that source name.
//
// Any failure is returned as a single error wrapping types.ErrSearchFailed
// and the underlying kind; there are no partial results.
func (e *Engine) Search(ctx context.Context, query, filename string, maxResults int) ([]*types.SearchResult, error) {
	if maxResults <= 0 {
		return nil, fmt.Errorf("%w: maxResults must be positive, got %d", types.ErrInvalidArgument, maxResults)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", types.ErrInvalidArgument)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()

	embeddings, err := e.embedding.Embed(ctx, []string{query})
	if err != nil {
		if !errors.Is(err, types.ErrEmbeddingFailed) {
			err = fmt.Errorf("%w: %w", types.ErrEmbeddingFailed, err)
		}
		return nil, fmt.Errorf("%w: embed query: %w", types.ErrSearchFailed, err)
	}
	if len(embeddings) != 1 {
		return nil, fmt.Errorf("%w: %w: got %d embeddings for one query",
			types.ErrSearchFailed, types.ErrEmbeddingFailed, len(embeddings))
	}
	vec := embeddings[0]
	if dims := e.store.Dimensions(); len(vec) != dims {
		return nil, fmt.Errorf("%w: %w: query has %d dimensions, store has %d",
			types.ErrSearchFailed, types.ErrDimensionMismatch, len(vec), dims)
	}

	results, err := e.store.Search(ctx, &types.SearchRequest{
		QueryVec: vec,
		Limit:    maxResults,
		Filter:   types.SearchFilter{SourceName: filename},
	})
	if err != nil {
		if !errors.Is(err, types.ErrStoreFailed) && !errors.Is(err, types.ErrDimensionMismatch) {
			err = fmt.Errorf("%w: %w", types.ErrStoreFailed, err)
		}
		return nil, fmt.Errorf("%w: %w", types.ErrSearchFailed, err)
	}

	slog.Debug("search complete",
		"filename", filename,
		"limit", maxResults,
		"results", len(results),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return results, nil
}

// Records returns the chunk records of results, in order.
func Records(results []*types.SearchResult) []*types.ChunkRecord {
	out := make([]*types.ChunkRecord, len(results))
	for i, r := range results {
		out[i] = r.Record
	}
	return out
}
