package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nadmax/callscope/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisAdapter, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	a, err := NewRedisAdapter(context.Background(), mr.Addr(), "", "callscope")
	require.NoError(t, err)

	return a, mr
}

func TestNewRedisAdapter_InvalidAddress(t *testing.T) {
	_, err := NewRedisAdapter(context.Background(), "invalid:99999", "", "callscope")
	assert.Error(t, err)
}

func TestRedisAdapterRoundTrip(t *testing.T) {
	a, mr := setupTestRedis(t)
	defer mr.Close()
	defer func() { _ = a.Close() }()

	ctx := context.Background()

	_, ok, err := a.GetItem(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.SetItem(ctx, "slice:x", `{"value":1,"expiry":null}`))
	assert.True(t, mr.Exists("callscope:slice:x"))

	v, ok, err := a.GetItem(ctx, "slice:x")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"value":1,"expiry":null}`, v)

	require.NoError(t, a.RemoveItem(ctx, "slice:x"))
	_, ok, err = a.GetItem(ctx, "slice:x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisAdapterClearKeepsOtherNamespaces(t *testing.T) {
	a, mr := setupTestRedis(t)
	defer mr.Close()
	defer func() { _ = a.Close() }()

	ctx := context.Background()
	require.NoError(t, mr.Set("other:key", "keep"))
	require.NoError(t, a.SetItem(ctx, "a", "1"))
	require.NoError(t, a.SetItem(ctx, "b", "2"))

	require.NoError(t, a.Clear(ctx))

	assert.False(t, mr.Exists("callscope:a"))
	assert.False(t, mr.Exists("callscope:b"))
	assert.True(t, mr.Exists("other:key"))
}

func TestRedisAdapterBacksCache(t *testing.T) {
	a, mr := setupTestRedis(t)
	defer mr.Close()
	defer func() { _ = a.Close() }()

	ctx := context.Background()
	calls := 0
	fetch := func(context.Context) (map[string]int, error) {
		calls++
		return map[string]int{"leads": 3}, nil
	}
	opts := cache.Options{TTL: time.Hour, UseStorage: true}

	_, err := cache.Get(ctx, cache.New(cache.WithAdapter(a)), cache.SliceKey("s"), fetch, opts)
	require.NoError(t, err)

	v, err := cache.Get(ctx, cache.New(cache.WithAdapter(a)), cache.SliceKey("s"), fetch, opts)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 3, v["leads"])
}

func TestRedisAdapterFailureDegrades(t *testing.T) {
	a, mr := setupTestRedis(t)
	defer func() { _ = a.Close() }()
	mr.Close()

	v, err := cache.Get(context.Background(), cache.New(cache.WithAdapter(a)), cache.SingletonKey("k"),
		func(context.Context) (string, error) { return "fetched", nil },
		cache.Options{TTL: cache.NoExpiry, UseStorage: true})

	require.NoError(t, err)
	assert.Equal(t, "fetched", v)
}
