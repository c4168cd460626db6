package host

import (
	"context"

	"github.com/spetr/localchat/pkg/plugin/shared"
	"github.com/spetr/localchat/pkg/provider"
)

// EmbeddingAdapter adapts a plugin EmbeddingProvider to provider.EmbeddingProvider.
type EmbeddingAdapter struct {
	plugin shared.EmbeddingProvider
}

// NewEmbeddingAdapter creates a new embedding adapter.
func NewEmbeddingAdapter(p shared.EmbeddingProvider) *EmbeddingAdapter {
	return &EmbeddingAdapter{plugin: p}
}

// Name returns the provider name.
func (a *EmbeddingAdapter) Name() string {
	return "plugin:" + a.plugin.Name()
}

// Embed generates embeddings for the given texts. The RPC itself cannot be
// interrupted; on cancellation the call is abandoned and ctx.Err returned.
func (a *EmbeddingAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return call(ctx, func() ([][]float32, error) {
		return a.plugin.Embed(texts)
	})
}

// Dimensions returns the embedding dimensions.
func (a *EmbeddingAdapter) Dimensions() int {
	return a.plugin.Dimensions()
}

// MaxBatchSize returns the maximum batch size.
func (a *EmbeddingAdapter) MaxBatchSize() int {
	return a.plugin.MaxBatchSize()
}

// Warmup warms up the provider.
func (a *EmbeddingAdapter) Warmup(ctx context.Context) error {
	_, err := call(ctx, func() (struct{}, error) {
		return struct{}{}, a.plugin.Warmup()
	})
	return err
}

// Close is a no-op; the Manager owns the plugin process.
func (a *EmbeddingAdapter) Close() error {
	return nil
}

func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

var _ provider.EmbeddingProvider = (*EmbeddingAdapter)(nil)
