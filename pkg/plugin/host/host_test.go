package host

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spetr/localchat/pkg/types"
)

type slowPlugin struct {
	delay time.Duration
}

func (s *slowPlugin) Name() string { return "slow" }
func (s *slowPlugin) Embed(texts []string) ([][]float32, error) {
	time.Sleep(s.delay)
	return [][]float32{{1}}, nil
}
func (s *slowPlugin) Dimensions() int   { return 1 }
func (s *slowPlugin) MaxBatchSize() int { return 8 }
func (s *slowPlugin) Warmup() error     { return nil }
func (s *slowPlugin) Close() error      { return nil }

func TestAdapter(t *testing.T) {
	a := NewEmbeddingAdapter(&slowPlugin{})
	assert.Equal(t, "plugin:slow", a.Name())
	assert.Equal(t, 1, a.Dimensions())
	assert.Equal(t, 8, a.MaxBatchSize())

	vecs, err := a.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Len(t, vecs, 1)
	assert.NoError(t, a.Warmup(context.Background()))
}

func TestAdapterHonoursContext(t *testing.T) {
	a := NewEmbeddingAdapter(&slowPlugin{delay: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := a.Embed(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDiscoverPlugins(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b-embed"), []byte("#!/bin/sh\n"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a-embed"), []byte("#!/bin/sh\n"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("docs"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))

	m := NewManager(dir, "error")
	names, err := m.DiscoverPlugins()
	require.NoError(t, err)
	assert.Equal(t, []string{"a-embed", "b-embed"}, names)

	names, err = NewManager(filepath.Join(dir, "missing"), "error").DiscoverPlugins()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLoadEmbeddingErrors(t *testing.T) {
	m := NewManager(t.TempDir(), "error")

	_, err := m.LoadEmbedding("absent")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = m.LoadEmbedding("../escape")
	assert.ErrorIs(t, err, types.ErrInvalidConfig)

	assert.Empty(t, m.ListLoaded())
	m.UnloadAll()
}
