package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by Get when the key is absent.
var ErrCacheMiss = errors.New("redis: cache miss")

// Cache is a type-safe wrapper over a Client for a single logical value
// type, scoped to a key prefix and a default TTL.
type Cache[T any] struct {
	client *Client
	prefix string
	ttl    time.Duration
}

// NewCache constructs a prefixed, type-safe cache over client.
func NewCache[T any](client *Client, prefix string, ttl time.Duration) *Cache[T] {
	return &Cache[T]{client: client, prefix: prefix, ttl: ttl}
}

func (c *Cache[T]) fullKey(key string) string {
	return c.prefix + ":" + key
}

// Set stores value under key with the cache's default TTL, encoded as JSON.
// There is no binary fallback encoding: a JSON marshal failure is returned
// as an error.
func (c *Cache[T]) Set(ctx context.Context, key string, value *T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("redis cache: encode %s: %w", key, err)
	}
	return c.client.rdb.Set(ctx, c.fullKey(key), data, c.ttl).Err()
}

// SetWithTTL is Set with an explicit TTL overriding the cache's default.
func (c *Cache[T]) SetWithTTL(ctx context.Context, key string, value *T, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("redis cache: encode %s: %w", key, err)
	}
	return c.client.rdb.Set(ctx, c.fullKey(key), data, ttl).Err()
}

// Get retrieves and decodes the value stored at key, returning ErrCacheMiss
// if absent.
func (c *Cache[T]) Get(ctx context.Context, key string) (*T, error) {
	data, err := c.client.rdb.Get(ctx, c.fullKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("redis cache: decode %s: %w", key, err)
	}
	return &value, nil
}

// Delete removes key, reporting whether it existed.
func (c *Cache[T]) Delete(ctx context.Context, key string) (bool, error) {
	n, err := c.client.rdb.Del(ctx, c.fullKey(key)).Result()
	return n > 0, err
}

// Exists reports whether key is present.
func (c *Cache[T]) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.rdb.Exists(ctx, c.fullKey(key)).Result()
	return n > 0, err
}

// Increment atomically adds by to the integer at key, creating it at by if
// absent, and applies ttl if provided and the result equals by (that is,
// this increment created the key).
func (c *Cache[T]) Increment(ctx context.Context, key string, by int64, ttl time.Duration) (int64, error) {
	full := c.fullKey(key)
	val, err := c.client.rdb.IncrBy(ctx, full, by).Result()
	if err != nil {
		return 0, err
	}
	if ttl > 0 && val == by {
		c.client.rdb.Expire(ctx, full, ttl)
	}
	return val, nil
}

// DeletePattern deletes all keys under the cache's prefix matching a glob
// pattern (go-redis KEYS-style `*`/`?` globs, via SCAN to avoid blocking).
func (c *Cache[T]) DeletePattern(ctx context.Context, glob string) (int, error) {
	full := c.fullKey(glob)
	var cursor uint64
	var deleted int
	for {
		keys, next, err := c.client.rdb.Scan(ctx, cursor, full, 100).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			n, err := c.client.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, err
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return deleted, nil
}
