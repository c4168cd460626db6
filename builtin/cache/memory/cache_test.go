package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spetr/localchat/pkg/types"
)

func TestCache(t *testing.T) {
	ctx := context.Background()
	c := New()

	keys, err := c.GetKeys(ctx, "a.pdf")
	require.NoError(t, err)
	assert.Empty(t, keys)

	in := types.NewKeySet("k1")
	require.NoError(t, c.RecordKeys(ctx, "a.pdf", "v1", in))
	in.Add("k2") // caller mutation must not leak into the cache

	keys, err = c.GetKeys(ctx, "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, keys.Sorted())

	keys.Add("k3")
	entry, err := c.GetEntry(ctx, "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "v1", entry.Version)
	assert.Len(t, entry.Keys, 1)

	require.NoError(t, c.RecordKeys(ctx, "b.pdf", "", nil))
	ids, _ := c.ListSources(ctx)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, ids)

	require.NoError(t, c.DeleteSource(ctx, "a.pdf"))
	ids, _ = c.ListSources(ctx)
	assert.Equal(t, []string{"b.pdf"}, ids)
}
