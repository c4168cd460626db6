package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedBatchesAndOrders(t *testing.T) {
	var batches [][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		batches = append(batches, req.Input)

		// answer in reverse order to check index handling
		data := make([]map[string]any, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(len(req.Input[i])), 0.5},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data":   data,
		})
	}))
	defer srv.Close()

	p := New(Config{Model: "all-minilm", APIKey: "test", BaseURL: srv.URL, BatchSize: 2})
	assert.Equal(t, 384, p.Dimensions(), "known model dimension")

	vecs, err := p.Embed(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, []float32{1, 0.5}, vecs[0])
	assert.Equal(t, []float32{2, 0.5}, vecs[1])
	assert.Equal(t, []float32{3, 0.5}, vecs[2])
	assert.Equal(t, [][]string{{"a", "bb"}, {"ccc"}}, batches)
}

func TestEmbedHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	p := New(Config{APIKey: "bad", BaseURL: srv.URL})
	_, err := p.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai embedding failed")
}
