package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/fluxcode/transcoder/pkg/cache/fallback"
	rediscache "github.com/fluxcode/transcoder/pkg/cache/redis"
	"github.com/fluxcode/transcoder/pkg/metrics"
)

// Category names the default-TTL table from spec §4.A.
type Category string

const (
	CategoryJobStatus     Category = "job_status"
	CategoryJobList       Category = "job_list"
	CategoryAPIKey        Category = "api_key"
	CategoryStorageConfig Category = "storage_config"
	CategoryAnalysis      Category = "analysis"
	CategoryRateLimit     Category = "rate_limit"
	CategoryDefault       Category = "default"
)

// DefaultTTLs is the spec §4.A default-TTL-by-category table.
var DefaultTTLs = map[Category]time.Duration{
	CategoryJobStatus:     30 * time.Second,
	CategoryJobList:       60 * time.Second,
	CategoryAPIKey:        300 * time.Second,
	CategoryStorageConfig: time.Hour,
	CategoryAnalysis:      24 * time.Hour,
	CategoryRateLimit:     time.Hour,
	CategoryDefault:       5 * time.Minute,
}

// Stats holds the cumulative operation counters from spec §4.A.
type Stats struct {
	Hits    int64
	Misses  int64
	Sets    int64
	Deletes int64
	Errors  int64
}

// HitRate returns hits / (hits+misses), or 0 when there have been no reads.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache is the two-tier key/value store: a remote tier backed by Redis with
// a bounded in-process fallback tier. Every operation returns a semantic
// result and never surfaces a remote-tier error to the caller — spec §4.A.
type Cache[T any] struct {
	remote   *rediscache.Cache[T]
	fallback *fallback.Store[T]
	prefix   string
	ttl      time.Duration
	logger   logr.Logger

	hits, misses, sets, deletes, errs int64
}

// New constructs a two-tier Cache scoped to prefix with the given default
// TTL and fallback capacity.
func New[T any](remote *rediscache.Client, prefix string, ttl time.Duration, fallbackCap int, logger logr.Logger) *Cache[T] {
	var remoteCache *rediscache.Cache[T]
	if remote != nil {
		remoteCache = rediscache.NewCache[T](remote, prefix, ttl)
	}
	return &Cache[T]{
		remote:   remoteCache,
		fallback: fallback.NewStore[T](fallbackCap),
		prefix:   prefix,
		ttl:      ttl,
		logger:   logger,
	}
}

func (c *Cache[T]) remoteAvailable() bool {
	return c.remote != nil
}

// Get retrieves key, consulting the remote tier first, falling back to the
// in-process tier on a remote error.
func (c *Cache[T]) Get(ctx context.Context, key string) (*T, bool) {
	if c.remoteAvailable() {
		val, err := c.remote.Get(ctx, key)
		if err == nil {
			atomic.AddInt64(&c.hits, 1)
			metrics.RecordCacheOp("remote", "hit")
			return val, true
		}
		if err != rediscache.ErrCacheMiss {
			atomic.AddInt64(&c.errs, 1)
			metrics.RecordCacheOp("remote", "error")
			c.logger.V(1).Info("remote cache get failed, falling back", "key", key, "error", err.Error())
		} else {
			metrics.RecordCacheOp("remote", "miss")
		}
	}
	if v, ok := c.fallback.Get(key); ok {
		atomic.AddInt64(&c.hits, 1)
		metrics.RecordCacheOp("fallback", "hit")
		return &v, true
	}
	atomic.AddInt64(&c.misses, 1)
	metrics.RecordCacheOp("fallback", "miss")
	return nil, false
}

// Set stores value under key with the given TTL (zero selects the cache's
// default TTL) in both tiers.
func (c *Cache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	atomic.AddInt64(&c.sets, 1)
	if c.remoteAvailable() {
		if err := c.remote.SetWithTTL(ctx, key, &value, ttl); err != nil {
			atomic.AddInt64(&c.errs, 1)
			metrics.RecordCacheOp("remote", "error")
			c.logger.V(1).Info("remote cache set failed, using fallback only", "key", key, "error", err.Error())
		} else {
			metrics.RecordCacheOp("remote", "set")
		}
	}
	c.fallback.Set(key, value, ttl)
	metrics.RecordCacheOp("fallback", "set")
}

// Delete removes key from both tiers, reporting whether it existed in
// either.
func (c *Cache[T]) Delete(ctx context.Context, key string) bool {
	atomic.AddInt64(&c.deletes, 1)
	existed := c.fallback.Delete(key)
	if c.remoteAvailable() {
		remoteExisted, err := c.remote.Delete(ctx, key)
		if err != nil {
			atomic.AddInt64(&c.errs, 1)
			metrics.RecordCacheOp("remote", "error")
		} else {
			metrics.RecordCacheOp("remote", "delete")
		}
		existed = existed || remoteExisted
	}
	return existed
}

// DeletePattern removes every key matching glob from both tiers, returning
// the combined count.
func (c *Cache[T]) DeletePattern(ctx context.Context, glob string) int {
	count := c.fallback.DeletePattern(glob)
	if c.remoteAvailable() {
		n, err := c.remote.DeletePattern(ctx, glob)
		if err != nil {
			atomic.AddInt64(&c.errs, 1)
			metrics.RecordCacheOp("remote", "error")
		} else {
			count += n
		}
	}
	return count
}

// Exists reports whether key is present in either tier.
func (c *Cache[T]) Exists(ctx context.Context, key string) bool {
	if c.remoteAvailable() {
		ok, err := c.remote.Exists(ctx, key)
		if err == nil && ok {
			return true
		}
		if err != nil {
			atomic.AddInt64(&c.errs, 1)
		}
	}
	return c.fallback.Exists(key)
}

// Increment atomically adds by to the value at key on the remote tier; on
// remote failure it falls back to a non-atomic read-modify-write against
// the fallback tier, per spec §4.A.
func (c *Cache[T]) Increment(ctx context.Context, key string, by int64, ttl time.Duration) int64 {
	if ttl <= 0 {
		ttl = c.ttl
	}
	if c.remoteAvailable() {
		intCache, ok := any(c.remote).(*rediscache.Cache[int64])
		if ok {
			val, err := intCache.Increment(ctx, key, by, ttl)
			if err == nil {
				return val
			}
			atomic.AddInt64(&c.errs, 1)
		}
	}
	current, _ := c.fallback.Get(key)
	var next int64
	if asInt, ok := any(current).(int64); ok {
		next = asInt + by
	} else {
		next = by
	}
	if boxed, ok := any(next).(T); ok {
		c.fallback.Set(key, boxed, ttl)
	}
	return next
}

// ClearAll empties both tiers.
func (c *Cache[T]) ClearAll(ctx context.Context) {
	c.fallback.ClearAll()
	if c.remoteAvailable() {
		c.remote.DeletePattern(ctx, "*")
	}
}

// Statistics returns a snapshot of the cumulative operation counters.
func (c *Cache[T]) Statistics() Stats {
	return Stats{
		Hits:    atomic.LoadInt64(&c.hits),
		Misses:  atomic.LoadInt64(&c.misses),
		Sets:    atomic.LoadInt64(&c.sets),
		Deletes: atomic.LoadInt64(&c.deletes),
		Errors:  atomic.LoadInt64(&c.errs),
	}
}

// FallbackLen exposes the fallback tier's current size, used by tests
// asserting the capacity invariant (spec §8 property 5).
func (c *Cache[T]) FallbackLen() int {
	return c.fallback.Len()
}
