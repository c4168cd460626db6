// Package guard wraps an EmbeddingProvider with a per-call timeout, a circuit
// breaker and an optional outbound rate limit.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/spetr/localchat/pkg/provider"
	"github.com/spetr/localchat/pkg/types"
)

// Default values
const (
	DefaultTimeout          = 60 * time.Second
	DefaultFailureThreshold = 5
	DefaultOpenTimeout      = 30 * time.Second
)

// Config contains guard configuration.
type Config struct {
	Timeout           time.Duration // per Embed call; 0 = DefaultTimeout
	FailureThreshold  uint32        // consecutive failures that open the breaker
	OpenTimeout       time.Duration // how long the breaker stays open before probing
	RequestsPerSecond float64       // 0 disables throttling
	Burst             int
}

// Provider is a guarded EmbeddingProvider.
type Provider struct {
	inner   provider.EmbeddingProvider
	config  Config
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// Wrap guards p with cfg.
func Wrap(p provider.EmbeddingProvider, cfg Config) *Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultOpenTimeout
	}

	g := &Provider{inner: p, config: cfg}

	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedding/" + p.Name(),
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			// caller cancellation says nothing about provider health
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return g
}

// Name returns the wrapped provider name.
func (g *Provider) Name() string {
	return g.inner.Name()
}

// Embed calls the wrapped provider through the limiter and breaker.
func (g *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	out, err := g.breaker.Execute(func() (interface{}, error) {
		vecs, err := g.inner.Embed(ctx, texts)
		if err == nil && len(vecs) != len(texts) {
			err = fmt.Errorf("provider returned %d embeddings for %d inputs", len(vecs), len(texts))
		}
		return vecs, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s: %w", types.ErrProviderNotAvailable, g.inner.Name(), err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %w", types.ErrTimeout, g.config.Timeout, err)
		}
		return nil, err
	}

	return out.([][]float32), nil
}

// State returns the breaker state ("closed", "half-open", "open").
func (g *Provider) State() string {
	return g.breaker.State().String()
}

// Dimensions returns the wrapped provider dimension.
func (g *Provider) Dimensions() int {
	return g.inner.Dimensions()
}

// MaxBatchSize returns the wrapped provider batch size.
func (g *Provider) MaxBatchSize() int {
	return g.inner.MaxBatchSize()
}

// Warmup warms up the wrapped provider under the call timeout.
func (g *Provider) Warmup(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()
	return g.inner.Warmup(ctx)
}

// Close closes the wrapped provider.
func (g *Provider) Close() error {
	return g.inner.Close()
}

var _ provider.EmbeddingProvider = (*Provider)(nil)
