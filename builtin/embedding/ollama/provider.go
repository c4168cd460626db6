// Package ollama implements EmbeddingProvider using Ollama's API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/spetr/localchat/pkg/provider"
)

// Default values
const (
	DefaultModel      = "all-minilm"
	DefaultEndpoint   = "http://localhost:11434"
	DefaultBatchSize  = 32
	DefaultDimensions = 384  // all-minilm
	DefaultMaxChars   = 8000 // truncate longer inputs to stay inside the model context
	DefaultTimeout    = 60 * time.Second
)

// Config contains Ollama provider configuration.
type Config struct {
	Model      string
	Endpoint   string
	BatchSize  int
	Dimensions int // 0 = detect from the first embedding
	Timeout    time.Duration
}

// Provider implements the EmbeddingProvider interface for Ollama.
type Provider struct {
	config     Config
	client     *http.Client
	dimensions int
	mu         sync.RWMutex
}

// New creates a new Ollama embedding provider.
func New(cfg Config) *Provider {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Provider{
		config:     cfg,
		client:     &http.Client{Timeout: cfg.Timeout},
		dimensions: cfg.Dimensions,
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "ollama"
}

// Embed generates embeddings for the given texts.
// Ollama's /api/embeddings takes one prompt per call, so texts are sent sequentially.
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		embedding, err := p.embedSingle(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		results[i] = embedding

		p.mu.Lock()
		if p.dimensions == 0 {
			p.dimensions = len(embedding)
		}
		p.mu.Unlock()
	}

	return results, nil
}

// embedSingle embeds a single text.
func (p *Provider) embedSingle(ctx context.Context, text string) ([]float32, error) {
	text = truncate(text, DefaultMaxChars)

	jsonBody, err := json.Marshal(map[string]any{
		"model":  p.config.Model,
		"prompt": text,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint+"/api/embeddings", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, errors.New("ollama returned an empty embedding, is the model an embedding model?")
	}

	embedding := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		embedding[i] = float32(v)
	}

	return embedding, nil
}

// truncate cuts text to at most limit bytes without splitting a rune.
func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	i := limit
	for i > 0 && !utf8.RuneStart(text[i]) {
		i--
	}
	return text[:i]
}

// Dimensions returns the embedding dimensions.
func (p *Provider) Dimensions() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.dimensions > 0 {
		return p.dimensions
	}
	return DefaultDimensions
}

// MaxBatchSize returns the maximum batch size.
func (p *Provider) MaxBatchSize() int {
	return p.config.BatchSize
}

// Warmup loads the model into Ollama's memory and fixes the dimension.
func (p *Provider) Warmup(ctx context.Context) error {
	_, err := p.Embed(ctx, []string{"warmup"})
	return err
}

// Close releases resources.
func (p *Provider) Close() error {
	return nil
}

// Available checks if Ollama is running and the model is pulled.
func (p *Provider) Available(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.Endpoint+"/api/version", nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama not available at %s: %w", p.config.Endpoint, err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	return p.checkModel(ctx)
}

// checkModel verifies the model exists.
func (p *Provider) checkModel(ctx context.Context) error {
	jsonBody, err := json.Marshal(map[string]any{"name": p.config.Model})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint+"/api/show", bytes.NewReader(jsonBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("model %s not found, run: ollama pull %s", p.config.Model, p.config.Model)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama show failed: %s", string(body))
	}

	return nil
}

// Ensure Provider implements EmbeddingProvider interface
var _ provider.EmbeddingProvider = (*Provider)(nil)
