package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spetr/localchat/pkg/types"
)

func rec(key, source string, pos int, vec ...float32) *types.ChunkRecord {
	return &types.ChunkRecord{Key: key, SourceName: source, Position: pos, Text: key, Vector: vec}
}

func TestSearchRankingAndTieBreak(t *testing.T) {
	ctx := context.Background()
	s := New(Config{})
	require.NoError(t, s.Init(ctx, 2))

	require.NoError(t, s.Upsert(ctx, []*types.ChunkRecord{
		rec("b", "doc1.pdf", 1, 1, 0),
		rec("a", "doc2.pdf", 1, 1, 0), // same vector as b
		rec("c", "doc1.pdf", 2, 0, 1),
		rec("d", "doc1.pdf", 3, 1, 1),
	}))

	res, err := s.Search(ctx, &types.SearchRequest{QueryVec: []float32{1, 0}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, res, 4)

	keys := []string{res[0].Record.Key, res[1].Record.Key, res[2].Record.Key, res[3].Record.Key}
	assert.Equal(t, []string{"a", "b", "d", "c"}, keys)
	assert.InDelta(t, 1.0, res[0].Score, 1e-6)
	assert.InDelta(t, 0.7071, res[2].Score, 1e-3)
	assert.InDelta(t, 0.0, res[3].Score, 1e-6)
}

func TestSearchFilterAndLimit(t *testing.T) {
	ctx := context.Background()
	s := New(Config{})
	require.NoError(t, s.Init(ctx, 2))
	require.NoError(t, s.Upsert(ctx, []*types.ChunkRecord{
		rec("a", "doc1.pdf", 1, 1, 0),
		rec("b", "doc2.pdf", 1, 1, 0),
		rec("c", "doc1.pdf", 2, 0, 1),
	}))

	res, err := s.Search(ctx, &types.SearchRequest{
		QueryVec: []float32{1, 0},
		Limit:    5,
		Filter:   types.SearchFilter{SourceName: "doc1.pdf"},
	})
	require.NoError(t, err)
	require.Len(t, res, 2)
	for _, r := range res {
		assert.Equal(t, "doc1.pdf", r.Record.SourceName)
	}

	res, err = s.Search(ctx, &types.SearchRequest{QueryVec: []float32{1, 0}, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, res, 1)

	_, err = s.Search(ctx, &types.SearchRequest{QueryVec: []float32{1, 0}, Limit: 0})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	_, err = s.Search(ctx, &types.SearchRequest{QueryVec: []float32{1, 0, 0}, Limit: 1})
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
}

func TestUpsertRejectsWrongDimension(t *testing.T) {
	ctx := context.Background()
	s := New(Config{})
	require.NoError(t, s.Init(ctx, 2))

	err := s.Upsert(ctx, []*types.ChunkRecord{
		rec("a", "x.pdf", 1, 1, 0),
		rec("b", "x.pdf", 2, 1, 0, 0),
	})
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)

	keys, err := s.Keys(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys, "a rejected batch applies nothing")
}

func TestDeleteAndKeys(t *testing.T) {
	ctx := context.Background()
	s := New(Config{})
	require.NoError(t, s.Init(ctx, 2))
	require.NoError(t, s.Upsert(ctx, []*types.ChunkRecord{
		rec("a", "x.pdf", 1, 1, 0),
		rec("b", "x.pdf", 2, 0, 1),
		rec("c", "y.pdf", 1, 0, 1),
	}))

	require.NoError(t, s.Delete(ctx, []string{"a", "missing"}))

	keys, err := s.Keys(ctx, "x.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalChunks)
	assert.Equal(t, 2, stats.Sources)

	require.NoError(t, s.Clear(ctx))
	keys, _ = s.Keys(ctx, "")
	assert.Empty(t, keys)
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vector-store", "collection.json")

	s := New(Config{Path: path})
	require.NoError(t, s.Init(ctx, 2))
	require.NoError(t, s.Upsert(ctx, []*types.ChunkRecord{rec("a", "x.pdf", 1, 1, 0)}))

	reopened := New(Config{Path: path})
	require.NoError(t, reopened.Init(ctx, 2))
	keys, err := reopened.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, keys)

	err = New(Config{Path: path}).Init(ctx, 3)
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)

	err = New(Config{Path: path, Collection: "other"}).Init(ctx, 2)
	assert.ErrorIs(t, err, types.ErrInvalidConfig)
}

func TestDefaultCollection(t *testing.T) {
	ctx := context.Background()
	s := New(Config{})
	require.NoError(t, s.Init(ctx, 2))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "data-localchatbot-ingested", stats.Collection)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{2, 0}, []float32{5, 0}), 1e-6)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.Equal(t, float32(0), CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
	assert.Equal(t, float32(0), CosineSimilarity([]float32{1}, []float32{1, 0}))
}
