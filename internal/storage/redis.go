// Package storage provides persistent backends for the analytics cache.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/nadmax/callscope/internal/cache"
	"github.com/redis/go-redis/v9"
)

var _ cache.Adapter = (*RedisAdapter)(nil)

// RedisAdapter keeps cache entries as plain string keys under a namespace.
type RedisAdapter struct {
	client    *redis.Client
	namespace string
}

func NewRedisAdapter(ctx context.Context, addr, password, namespace string) (*RedisAdapter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisAdapter{client: client, namespace: namespace}, nil
}

func (r *RedisAdapter) key(k string) string {
	return r.namespace + ":" + k
}

func (r *RedisAdapter) GetItem(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	return value, true, nil
}

func (r *RedisAdapter) SetItem(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, r.key(key), value, 0).Err()
}

func (r *RedisAdapter) RemoveItem(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

// Clear removes every key of the namespace.
func (r *RedisAdapter) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.namespace+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisAdapter) Close() error {
	return r.client.Close()
}
