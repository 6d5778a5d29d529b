package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAdapter(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()

	require.NoError(t, m.SetItem(ctx, "a", "1"))
	require.NoError(t, m.SetItem(ctx, "b", "2"))

	v, ok, err := m.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	require.NoError(t, m.RemoveItem(ctx, "a"))
	_, ok, _ = m.GetItem(ctx, "a")
	assert.False(t, ok)

	require.NoError(t, m.Clear(ctx))
	assert.Equal(t, 0, m.Len())
}
