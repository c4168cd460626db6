package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOllamaServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embeddings":
			calls.Add(1)
			var req struct {
				Model  string `json:"model"`
				Prompt string `json:"prompt"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if req.Prompt == "fail" {
				http.Error(w, "model crashed", http.StatusInternalServerError)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"embedding": []float64{float64(len(req.Prompt)), 1, 0},
			})
		case "/api/version":
			_, _ = w.Write([]byte(`{"version":"0.6.0"}`))
		case "/api/show":
			var req struct {
				Name string `json:"name"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Name != "all-minilm" {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write([]byte(`{}`))
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestEmbed(t *testing.T) {
	var calls atomic.Int32
	srv := newOllamaServer(t, &calls)
	defer srv.Close()

	p := New(Config{Endpoint: srv.URL + "/"})
	assert.Equal(t, DefaultDimensions, p.Dimensions(), "default before detection")

	vecs, err := p.Embed(context.Background(), []string{"cats", "horses"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{4, 1, 0}, vecs[0])
	assert.Equal(t, []float32{6, 1, 0}, vecs[1])
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 3, p.Dimensions(), "detected from first embedding")
}

func TestEmbedTruncatesOnRuneBoundary(t *testing.T) {
	var calls atomic.Int32
	srv := newOllamaServer(t, &calls)
	defer srv.Close()

	// byte DefaultMaxChars falls inside a two-byte rune
	text := "x" + strings.Repeat("é", DefaultMaxChars)
	vecs, err := New(Config{Endpoint: srv.URL}).Embed(context.Background(), []string{text})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Equal(t, float32(DefaultMaxChars-1), vecs[0][0])
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "a", truncate("aé", 2))
	assert.Equal(t, "aé", truncate("aé", 3))
	assert.Equal(t, "", truncate("日本", 2))

	cut := truncate("x"+strings.Repeat("日本語", 100), 50)
	assert.True(t, utf8.ValidString(cut))
	assert.LessOrEqual(t, len(cut), 50)
}

func TestEmbedError(t *testing.T) {
	var calls atomic.Int32
	srv := newOllamaServer(t, &calls)
	defer srv.Close()

	p := New(Config{Endpoint: srv.URL})
	_, err := p.Embed(context.Background(), []string{"ok", "fail"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestAvailable(t *testing.T) {
	var calls atomic.Int32
	srv := newOllamaServer(t, &calls)
	defer srv.Close()

	assert.NoError(t, New(Config{Endpoint: srv.URL}).Available(context.Background()))

	err := New(Config{Endpoint: srv.URL, Model: "missing"}).Available(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama pull missing")
}
