package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkKey(t *testing.T) {
	a := ChunkKey("a.pdf", 1, "cats")
	assert.Equal(t, a, ChunkKey("a.pdf", 1, "cats"), "key must be stable")
	assert.True(t, strings.HasPrefix(a, "a.pdf:1:"))

	assert.NotEqual(t, a, ChunkKey("a.pdf", 2, "cats"))
	assert.NotEqual(t, a, ChunkKey("b.pdf", 1, "cats"))
	assert.NotEqual(t, a, ChunkKey("a.pdf", 1, "dogs"))
}

func TestKeySetDiff(t *testing.T) {
	old := NewKeySet("A", "B", "C")
	cur := NewKeySet("A", "B", "D")

	assert.Equal(t, []string{"D"}, cur.Diff(old))
	assert.Equal(t, []string{"C"}, old.Diff(cur))
	assert.Empty(t, cur.Diff(cur))
	assert.False(t, old.Equal(cur))
	assert.True(t, old.Equal(NewKeySet("C", "B", "A")))
}

func TestKeySetSorted(t *testing.T) {
	s := NewKeySet("b", "c", "a")
	s.Add("a")
	assert.Equal(t, []string{"a", "b", "c"}, s.Sorted())
	assert.True(t, s.Has("c"))
	assert.False(t, s.Has("d"))
}

func TestIngestReportErr(t *testing.T) {
	r := &IngestReport{}
	assert.NoError(t, r.Err())

	r.Errors = map[string]error{
		"b.pdf": ErrEmbeddingFailed,
		"a.pdf": ErrSourceUnavailable,
	}
	err := r.Err()
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.True(t, strings.Index(err.Error(), "a.pdf") < strings.Index(err.Error(), "b.pdf"))
}

func TestKeySourceName(t *testing.T) {
	assert.Equal(t, "a.pdf", KeySourceName(ChunkKey("a.pdf", 3, "birds")))
	assert.Equal(t, "odd:name.pdf", KeySourceName(ChunkKey("odd:name.pdf", 1, "x")))
	assert.Equal(t, "a.pdf", KeySourceName(ChunkKey("backup/a.pdf", 1, "x")))
	assert.Equal(t, "backup/a.pdf", KeySourceID(ChunkKey("backup/a.pdf", 1, "x")))
	assert.Equal(t, "plain", KeySourceName("plain"))
}

func TestNewChunkKeyedByID(t *testing.T) {
	doc := SourceDocument{ID: "backup/a.pdf", Name: "a.pdf"}
	r := doc.NewChunk(1, "cats")
	assert.Equal(t, "a.pdf", r.SourceName)
	assert.Equal(t, ChunkKey("backup/a.pdf", 1, "cats"), r.Key)
	assert.NotEqual(t, ChunkKey("a.pdf", 1, "cats"), r.Key)

	assert.Equal(t, "a.pdf", NewChunkRecord("backup/a.pdf", 1, "cats").SourceName)
}
