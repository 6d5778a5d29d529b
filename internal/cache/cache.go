// Package cache provides a two-tier memoizing key/value store: an in-memory
// tier with lazy TTL expiry and an optional persistent Adapter.
//
// Get returns the stored value itself, not a copy. Mutating a returned map or
// slice changes the cached value; use AtomicUpdate for isolated edits.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nadmax/callscope/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// NoExpiry keeps an entry until it is deleted.
const NoExpiry time.Duration = math.MaxInt64

var (
	ErrUpdateFailed = errors.New("cache update failed")
	ErrTypeMismatch = errors.New("cached value has unexpected type")
)

type Options struct {
	TTL        time.Duration
	UseStorage bool
}

type entry struct {
	value  any
	expiry time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiry.IsZero() && now.After(e.expiry)
}

// storedEntry is the persistent representation: expiry in Unix milliseconds,
// null for entries that never expire.
type storedEntry struct {
	Value  json.RawMessage `json:"value"`
	Expiry *int64          `json:"expiry"`
}

type Cache struct {
	mu       sync.RWMutex
	updateMu sync.Mutex
	entries  map[Key]entry
	adapter  Adapter
	clock    clockwork.Clock
	logger   *zap.Logger
	flight   singleflight.Group
}

type Option func(*Cache)

func WithAdapter(a Adapter) Option {
	return func(c *Cache) { c.adapter = a }
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *Cache) { c.clock = clock }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[Key]entry),
		clock:   clockwork.NewRealClock(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Cache) expiryFor(ttl time.Duration) time.Time {
	if ttl == NoExpiry || ttl <= 0 {
		return time.Time{}
	}

	return c.clock.Now().Add(ttl)
}

func (c *Cache) lookup(key Key) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if e.expired(c.clock.Now()) {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur.expired(c.clock.Now()) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	return e.value, true
}

func (c *Cache) store(key Key, value any, expiry time.Time) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiry: expiry}
	c.mu.Unlock()
}

func (c *Cache) currentExpiry(key Key) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	return e.expiry, ok
}

func (c *Cache) readStorage(ctx context.Context, key Key, dst any) (time.Time, bool) {
	if c.adapter == nil {
		return time.Time{}, false
	}

	raw, ok, err := c.adapter.GetItem(ctx, key.String())
	if err != nil {
		metrics.RecordStorageError("read")
		c.logger.Warn("failed to read persistent cache", zap.String("key", key.String()), zap.Error(err))
		return time.Time{}, false
	}
	if !ok {
		return time.Time{}, false
	}

	var se storedEntry
	if err := json.Unmarshal([]byte(raw), &se); err != nil {
		metrics.RecordStorageError("decode")
		c.logger.Warn("failed to decode persistent cache entry", zap.String("key", key.String()), zap.Error(err))
		return time.Time{}, false
	}

	var expiry time.Time
	if se.Expiry != nil {
		expiry = time.UnixMilli(*se.Expiry)
		if c.clock.Now().After(expiry) {
			c.removeStorage(ctx, key)
			return time.Time{}, false
		}
	}

	if err := json.Unmarshal(se.Value, dst); err != nil {
		metrics.RecordStorageError("decode")
		c.logger.Warn("failed to decode persistent cache value", zap.String("key", key.String()), zap.Error(err))
		return time.Time{}, false
	}

	return expiry, true
}

func (c *Cache) writeStorage(ctx context.Context, key Key, value any, expiry time.Time) {
	if c.adapter == nil {
		return
	}

	raw, err := json.Marshal(value)
	if err != nil {
		metrics.RecordStorageError("encode")
		c.logger.Warn("failed to encode cache value", zap.String("key", key.String()), zap.Error(err))
		return
	}

	se := storedEntry{Value: raw}
	if !expiry.IsZero() {
		ms := expiry.UnixMilli()
		se.Expiry = &ms
	}

	data, err := json.Marshal(se)
	if err != nil {
		metrics.RecordStorageError("encode")
		c.logger.Warn("failed to encode cache entry", zap.String("key", key.String()), zap.Error(err))
		return
	}

	if err := c.adapter.SetItem(ctx, key.String(), string(data)); err != nil {
		metrics.RecordStorageError("write")
		c.logger.Warn("failed to write persistent cache", zap.String("key", key.String()), zap.Error(err))
	}
}

func (c *Cache) removeStorage(ctx context.Context, key Key) {
	if c.adapter == nil {
		return
	}

	if err := c.adapter.RemoveItem(ctx, key.String()); err != nil {
		metrics.RecordStorageError("remove")
		c.logger.Warn("failed to remove persistent cache entry", zap.String("key", key.String()), zap.Error(err))
	}
}

// Get returns the value under key, falling back to the persistent tier when
// opts.UseStorage is set and finally to fetch. Concurrent misses for the same
// key share one fetch, which is not cancelled when the caller that started it
// gives up. Errors from fetch are returned as is.
func Get[T any](ctx context.Context, c *Cache, key Key, fetch func(context.Context) (T, error), opts Options) (T, error) {
	var zero T

	if v, ok := Peek[T](c, key); ok {
		metrics.RecordCacheHit("memory", string(key.Kind))
		return v, nil
	}

	shared := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key.String(), func() (any, error) {
		if v, ok := Peek[T](c, key); ok {
			return v, nil
		}

		if opts.UseStorage {
			var stored T
			if expiry, ok := c.readStorage(shared, key, &stored); ok {
				metrics.RecordCacheHit("storage", string(key.Kind))
				c.store(key, stored, expiry)
				return stored, nil
			}
		}

		metrics.RecordCacheMiss(string(key.Kind))
		v, err := fetch(shared)
		if err != nil {
			return nil, err
		}

		expiry := c.expiryFor(opts.TTL)
		c.store(key, v, expiry)
		if opts.UseStorage {
			c.writeStorage(shared, key, v, expiry)
		}

		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Peek reads the memory tier only.
func Peek[T any](c *Cache, key Key) (T, bool) {
	var zero T

	v, ok := c.lookup(key)
	if !ok {
		return zero, false
	}

	typed, ok := v.(T)
	if !ok {
		c.logger.Warn("cached value has unexpected type", zap.String("key", key.String()), zap.String("type", fmt.Sprintf("%T", v)))
		return zero, false
	}

	return typed, true
}

// Set writes value to both tiers.
func Set[T any](ctx context.Context, c *Cache, key Key, value T, opts Options) {
	expiry := c.expiryFor(opts.TTL)
	c.store(key, value, expiry)
	c.writeStorage(ctx, key, value, expiry)
}

// Update replaces the value under key with fn(current). A missing entry is
// passed as the zero value and stored with opts.TTL; an existing entry keeps
// its expiry. Updates are serialized; fn must not update the same cache.
func Update[T any](ctx context.Context, c *Cache, key Key, fn func(T) (T, error), opts Options) (T, error) {
	c.updateMu.Lock()
	defer c.updateMu.Unlock()

	current, _ := Peek[T](c, key)

	next, err := fn(current)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %w", ErrUpdateFailed, err)
	}

	c.put(ctx, key, next, opts)
	return next, nil
}

// AtomicUpdate is Update on a deep copy: if fn fails the cached value is
// left exactly as it was.
func AtomicUpdate[T Cloner[T]](ctx context.Context, c *Cache, key Key, fn func(T) (T, error), opts Options) (T, error) {
	c.updateMu.Lock()
	defer c.updateMu.Unlock()

	var working T
	if current, ok := Peek[T](c, key); ok {
		working = current.Clone()
	}

	next, err := fn(working)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %w", ErrUpdateFailed, err)
	}

	c.put(ctx, key, next, opts)
	return next, nil
}

func (c *Cache) put(ctx context.Context, key Key, value any, opts Options) {
	expiry, ok := c.currentExpiry(key)
	if !ok {
		expiry = c.expiryFor(opts.TTL)
	}

	c.store(key, value, expiry)
	if opts.UseStorage {
		c.writeStorage(ctx, key, value, expiry)
	}
}

func (c *Cache) Delete(ctx context.Context, key Key) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	c.removeStorage(ctx, key)
}

func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[Key]entry)
	c.mu.Unlock()

	if c.adapter == nil {
		return
	}
	if err := c.adapter.Clear(ctx); err != nil {
		metrics.RecordStorageError("clear")
		c.logger.Warn("failed to clear persistent cache", zap.Error(err))
	}
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}
