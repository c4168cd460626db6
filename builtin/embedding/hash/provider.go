// Package hash implements a deterministic, offline EmbeddingProvider.
// Vectors are derived from SHA-256 of the text, so identical text always
// yields an identical unit vector. It carries no semantics and is meant for
// tests, demos and the example plugin.
package hash

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/spetr/localchat/pkg/provider"
)

// Default values
const (
	DefaultDimensions = 384
	DefaultBatchSize  = 32
)

// Config contains hash provider configuration.
type Config struct {
	Dimensions int
	BatchSize  int
}

// Provider generates hash-based embeddings.
type Provider struct {
	config Config
}

// New creates a new hash embedding provider.
func New(cfg Config) *Provider {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Provider{config: cfg}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "hash"
}

// Embed generates one vector per text.
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = Vector(text, p.config.Dimensions)
	}
	return out, nil
}

// Dimensions returns the embedding dimensions.
func (p *Provider) Dimensions() int {
	return p.config.Dimensions
}

// MaxBatchSize returns the maximum batch size.
func (p *Provider) MaxBatchSize() int {
	return p.config.BatchSize
}

// Warmup is a no-op.
func (p *Provider) Warmup(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (p *Provider) Close() error {
	return nil
}

// Vector returns the unit-length hash embedding of text.
func Vector(text string, dimensions int) []float32 {
	vec := make([]float32, dimensions)
	seed := sha256.Sum256([]byte(text))

	block := seed
	var counter [4]byte
	for i := 0; i < dimensions; i++ {
		if i > 0 && i%32 == 0 {
			binary.BigEndian.PutUint32(counter[:], uint32(i/32))
			block = sha256.Sum256(append(seed[:], counter[:]...))
		}
		// map byte to [-1, 1]
		vec[i] = float32(block[i%32])/127.5 - 1.0
	}

	return normalize(vec)
}

// normalize scales a vector to unit length.
func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := float32(math.Sqrt(sum))
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

var _ provider.EmbeddingProvider = (*Provider)(nil)
