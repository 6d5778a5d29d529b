package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	mu       sync.Mutex
	items    map[string]string
	failGet  bool
	failSet  bool
	setCalls int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{items: make(map[string]string)}
}

func (f *fakeAdapter) GetItem(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failGet {
		return "", false, errors.New("storage unavailable")
	}
	v, ok := f.items[key]
	return v, ok, nil
}

func (f *fakeAdapter) SetItem(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.setCalls++
	if f.failSet {
		return errors.New("storage unavailable")
	}
	f.items[key] = value
	return nil
}

func (f *fakeAdapter) RemoveItem(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.items, key)
	return nil
}

func (f *fakeAdapter) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.items = make(map[string]string)
	return nil
}

type counters map[string]int

func (c counters) Clone() counters {
	out := make(counters, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

func countingFetch[T any](calls *int32, value T) func(context.Context) (T, error) {
	return func(context.Context) (T, error) {
		atomic.AddInt32(calls, 1)
		return value, nil
	}
}

func TestGetMemoizes(t *testing.T) {
	c := New()
	ctx := context.Background()
	key := SliceKey("start=2024-01-01&end=2024-01-01")
	var calls int32

	first, err := Get(ctx, c, key, countingFetch(&calls, "value"), Options{TTL: NoExpiry})
	require.NoError(t, err)
	second, err := Get(ctx, c, key, countingFetch(&calls, "other"), Options{TTL: NoExpiry})
	require.NoError(t, err)

	assert.Equal(t, "value", first)
	assert.Equal(t, "value", second)
	assert.Equal(t, int32(1), calls)
}

func TestGetTTLExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(WithClock(clock))
	ctx := context.Background()
	key := SingletonKey("config")
	ttl := time.Minute
	var calls int32

	_, err := Get(ctx, c, key, countingFetch(&calls, 1), Options{TTL: ttl})
	require.NoError(t, err)

	clock.Advance(ttl - time.Millisecond)
	_, err = Get(ctx, c, key, countingFetch(&calls, 2), Options{TTL: ttl})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls, "entry must be served from memory before expiry")

	clock.Advance(2 * time.Millisecond)
	v, err := Get(ctx, c, key, countingFetch(&calls, 2), Options{TTL: ttl})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls, "entry must be refetched after expiry")
	assert.Equal(t, 2, v)
}

func TestGetNoExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(WithClock(clock))
	ctx := context.Background()
	var calls int32

	_, err := Get(ctx, c, SingletonKey("k"), countingFetch(&calls, 1), Options{TTL: NoExpiry})
	require.NoError(t, err)
	clock.Advance(24 * 365 * time.Hour)
	_, err = Get(ctx, c, SingletonKey("k"), countingFetch(&calls, 1), Options{TTL: NoExpiry})
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls)
}

func TestGetFetchError(t *testing.T) {
	c := New()
	fetchErr := errors.New("network down")

	_, err := Get(context.Background(), c, SingletonKey("k"), func(context.Context) (int, error) {
		return 0, fetchErr
	}, Options{TTL: NoExpiry})

	assert.ErrorIs(t, err, fetchErr)
	assert.Equal(t, 0, c.Len(), "failed fetch must not be cached")
}

func TestGetConcurrentMissesShareFetch(t *testing.T) {
	c := New()
	ctx := context.Background()
	release := make(chan struct{})
	var calls int32

	fetch := func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "shared", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := Get(ctx, c, SliceKey("s"), fetch, Options{TTL: NoExpiry})
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls)
	for _, r := range results {
		assert.Equal(t, "shared", r)
	}
}

func TestGetSharedFetchSurvivesCallerCancellation(t *testing.T) {
	c := New()
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32

	fetch := func(ctx context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		select {
		case <-release:
			return "shared", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := Get(first, c, SliceKey("s"), fetch, Options{TTL: NoExpiry})
		firstErr <- err
	}()
	<-started

	second := make(chan string, 1)
	go func() {
		v, err := Get(context.Background(), c, SliceKey("s"), fetch, Options{TTL: NoExpiry})
		assert.NoError(t, err)
		second <- v
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	assert.Equal(t, "shared", <-second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	v, ok := Peek[string](c, SliceKey("s"))
	require.True(t, ok)
	assert.Equal(t, "shared", v)
}

func TestGetFromStorage(t *testing.T) {
	clock := clockwork.NewFakeClock()
	adapter := newFakeAdapter()
	ctx := context.Background()
	key := SliceKey("start=2024-01-01&end=2024-01-01")
	var calls int32

	writer := New(WithAdapter(adapter), WithClock(clock))
	_, err := Get(ctx, writer, key, countingFetch(&calls, map[string]int{"leads": 3}), Options{TTL: time.Hour, UseStorage: true})
	require.NoError(t, err)
	require.Contains(t, adapter.items, "slice:start=2024-01-01&end=2024-01-01")

	reader := New(WithAdapter(adapter), WithClock(clock))
	v, err := Get(ctx, reader, key, countingFetch(&calls, map[string]int{}), Options{TTL: time.Hour, UseStorage: true})
	require.NoError(t, err)
	assert.Equal(t, 3, v["leads"])
	assert.Equal(t, int32(1), calls)

	clock.Advance(2 * time.Hour)
	fresh := New(WithAdapter(adapter), WithClock(clock))
	_, err = Get(ctx, fresh, key, countingFetch(&calls, map[string]int{}), Options{TTL: time.Hour, UseStorage: true})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls, "expired persistent entry must not be served")
}

func TestGetIgnoresStorageWhenDisabled(t *testing.T) {
	adapter := newFakeAdapter()
	c := New(WithAdapter(adapter))
	var calls int32

	_, err := Get(context.Background(), c, SingletonKey("k"), countingFetch(&calls, 1), Options{TTL: NoExpiry})
	require.NoError(t, err)

	assert.Equal(t, 0, adapter.setCalls)
}

func TestStorageFailuresDegradeToMemory(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.failGet = true
	adapter.failSet = true
	c := New(WithAdapter(adapter))
	ctx := context.Background()
	var calls int32

	v, err := Get(ctx, c, SingletonKey("k"), countingFetch(&calls, "ok"), Options{TTL: NoExpiry, UseStorage: true})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	v, err = Get(ctx, c, SingletonKey("k"), countingFetch(&calls, "again"), Options{TTL: NoExpiry, UseStorage: true})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(1), calls)
}

func TestCorruptStorageEntryIsRefetched(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.items["singleton:k"] = "{not json"
	c := New(WithAdapter(adapter))
	var calls int32

	v, err := Get(context.Background(), c, SingletonKey("k"), countingFetch(&calls, 7), Options{TTL: NoExpiry, UseStorage: true})
	require.NoError(t, err)

	assert.Equal(t, 7, v)
	assert.Equal(t, int32(1), calls)
}

func TestSetWritesBothTiers(t *testing.T) {
	adapter := newFakeAdapter()
	c := New(WithAdapter(adapter))
	ctx := context.Background()

	Set(ctx, c, SingletonKey("k"), 42, Options{TTL: NoExpiry})

	v, ok := Peek[int](c, SingletonKey("k"))
	assert.True(t, ok)
	assert.Equal(t, 42, v)
	assert.JSONEq(t, `{"value":42,"expiry":null}`, adapter.items["singleton:k"])
}

func TestKeysOfDifferentKindsDoNotCollide(t *testing.T) {
	c := New()
	ctx := context.Background()

	Set(ctx, c, SliceKey("x"), "slice", Options{TTL: NoExpiry})
	Set(ctx, c, SingletonKey("x"), "singleton", Options{TTL: NoExpiry})

	s, _ := Peek[string](c, SliceKey("x"))
	g, _ := Peek[string](c, SingletonKey("x"))
	assert.Equal(t, "slice", s)
	assert.Equal(t, "singleton", g)
	assert.Equal(t, "prefix:project/1/name", PrefixKey("project", "1", "name").String())
}

func TestPeekTypeMismatch(t *testing.T) {
	c := New()
	Set(context.Background(), c, SingletonKey("k"), "string", Options{TTL: NoExpiry})

	_, ok := Peek[int](c, SingletonKey("k"))
	assert.False(t, ok)
}

func TestUpdate(t *testing.T) {
	c := New()
	ctx := context.Background()
	key := SingletonKey("counter")

	_, err := Update(ctx, c, key, func(v int) (int, error) { return v + 1, nil }, Options{TTL: NoExpiry})
	require.NoError(t, err)
	v, err := Update(ctx, c, key, func(v int) (int, error) { return v + 1, nil }, Options{TTL: NoExpiry})
	require.NoError(t, err)

	assert.Equal(t, 2, v)
}

func TestUpdateKeepsExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(WithClock(clock))
	ctx := context.Background()
	key := SingletonKey("k")

	Set(ctx, c, key, 1, Options{TTL: time.Minute})
	clock.Advance(50 * time.Second)
	_, err := Update(ctx, c, key, func(v int) (int, error) { return v + 1, nil }, Options{TTL: time.Hour})
	require.NoError(t, err)
	clock.Advance(20 * time.Second)

	_, ok := Peek[int](c, key)
	assert.False(t, ok)
}

func TestAtomicUpdateLeavesCacheOnError(t *testing.T) {
	c := New()
	ctx := context.Background()
	key := SingletonKey("counters")
	Set(ctx, c, key, counters{"leads": 1}, Options{TTL: NoExpiry})

	boom := errors.New("boom")
	_, err := AtomicUpdate(ctx, c, key, func(v counters) (counters, error) {
		v["leads"] = 100
		v["missed"] = 5
		return nil, boom
	}, Options{TTL: NoExpiry})

	assert.ErrorIs(t, err, ErrUpdateFailed)
	assert.ErrorIs(t, err, boom)

	stored, ok := Peek[counters](c, key)
	require.True(t, ok)
	assert.Equal(t, counters{"leads": 1}, stored)
}

func TestAtomicUpdateSuccess(t *testing.T) {
	c := New()
	ctx := context.Background()
	key := SingletonKey("counters")
	original := counters{"leads": 1}
	Set(ctx, c, key, original, Options{TTL: NoExpiry})

	next, err := AtomicUpdate(ctx, c, key, func(v counters) (counters, error) {
		v["leads"]++
		return v, nil
	}, Options{TTL: NoExpiry})
	require.NoError(t, err)

	assert.Equal(t, 2, next["leads"])
	assert.Equal(t, 1, original["leads"], "previous reference must not be mutated")
}

func TestDeleteAndClear(t *testing.T) {
	adapter := newFakeAdapter()
	c := New(WithAdapter(adapter))
	ctx := context.Background()

	Set(ctx, c, SingletonKey("a"), 1, Options{TTL: NoExpiry})
	Set(ctx, c, SingletonKey("b"), 2, Options{TTL: NoExpiry})

	c.Delete(ctx, SingletonKey("a"))
	_, ok := Peek[int](c, SingletonKey("a"))
	assert.False(t, ok)
	assert.NotContains(t, adapter.items, "singleton:a")

	c.Clear(ctx)
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, adapter.items)
}
