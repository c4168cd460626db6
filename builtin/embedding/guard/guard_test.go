package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spetr/localchat/pkg/types"
)

type stubProvider struct {
	calls int
	err   error
	delay time.Duration
	short bool
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	if s.short {
		out = out[:len(out)-1]
	}
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (s *stubProvider) Dimensions() int                  { return 2 }
func (s *stubProvider) MaxBatchSize() int                { return 4 }
func (s *stubProvider) Warmup(ctx context.Context) error { return nil }
func (s *stubProvider) Close() error                     { return nil }

func TestPassThrough(t *testing.T) {
	stub := &stubProvider{}
	g := Wrap(stub, Config{})

	vecs, err := g.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, "stub", g.Name())
	assert.Equal(t, 2, g.Dimensions())
	assert.Equal(t, 4, g.MaxBatchSize())
	assert.Equal(t, "closed", g.State())
}

func TestBreakerOpens(t *testing.T) {
	stub := &stubProvider{err: errors.New("connection refused")}
	g := Wrap(stub, Config{FailureThreshold: 2, OpenTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		_, err := g.Embed(context.Background(), []string{"a"})
		require.Error(t, err)
		assert.NotErrorIs(t, err, types.ErrProviderNotAvailable)
	}
	assert.Equal(t, "open", g.State())

	_, err := g.Embed(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, types.ErrProviderNotAvailable)
	assert.Equal(t, 2, stub.calls, "open breaker must not reach the provider")
}

func TestTimeout(t *testing.T) {
	stub := &stubProvider{delay: time.Second}
	g := Wrap(stub, Config{Timeout: 20 * time.Millisecond})

	_, err := g.Embed(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, types.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCountMismatch(t *testing.T) {
	g := Wrap(&stubProvider{short: true}, Config{})
	_, err := g.Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 embeddings for 2 inputs")
}

func TestRateLimitHonoursContext(t *testing.T) {
	g := Wrap(&stubProvider{}, Config{RequestsPerSecond: 0.001, Burst: 1})

	_, err := g.Embed(context.Background(), []string{"a"})
	require.NoError(t, err, "first call uses the burst")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = g.Embed(ctx, []string{"a"})
	assert.Error(t, err)
}
