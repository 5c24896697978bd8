// Package lock implements the distributed mutex from spec §4.B: a remote
// key with a unique holder token and TTL, released only by compare-and-
// delete against that token.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/fluxcode/transcoder/internal/errors"
)

// defaultRetryDelay is the sleep between acquire attempts when blocking.
const defaultRetryDelay = 100 * time.Millisecond

// releaseScript performs an atomic compare-and-delete: only the holder that
// set the value may delete it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// extendScript performs an atomic compare-and-set-ttl.
var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// Manager acquires and releases locks backed by a Redis client.
type Manager struct {
	rdb *redis.Client
}

// NewManager constructs a Manager over an existing go-redis client.
func NewManager(rdb *redis.Client) *Manager {
	return &Manager{rdb: rdb}
}

// Lock represents a held lock; Release and Extend operate on this instance.
type Lock struct {
	manager *Manager
	key     string
	token   string
}

// Acquire attempts to take key. If blocking is false, it makes a single
// attempt. If blocking is true, it retries every defaultRetryDelay until
// acquired or waitTimeout elapses, returning a KindTimeout AppError
// (LockAcquisitionError) on deadline exceeded.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration, blocking bool, waitTimeout time.Duration) (*Lock, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(waitTimeout)

	for {
		ok, err := m.rdb.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindStorage, "lock acquire failed", err)
		}
		if ok {
			return &Lock{manager: m, key: key, token: token}, nil
		}
		if !blocking {
			return nil, apperrors.New(apperrors.KindTimeout, "lock acquisition failed: already held")
		}
		if waitTimeout > 0 && time.Now().After(deadline) {
			return nil, apperrors.New(apperrors.KindTimeout, "lock acquisition timed out")
		}
		select {
		case <-ctx.Done():
			return nil, apperrors.Wrap(apperrors.KindTimeout, "lock acquisition cancelled", ctx.Err())
		case <-time.After(defaultRetryDelay):
		}
	}
}

// Release performs the atomic compare-and-delete. It is a no-op error if
// the lock was already released or had been forcibly expired.
func (l *Lock) Release(ctx context.Context) error {
	res, err := releaseScript.Run(ctx, l.manager.rdb, []string{l.key}, l.token).Int()
	if err != nil {
		return apperrors.Wrap(apperrors.KindStorage, "lock release failed", err)
	}
	if res == 0 {
		return apperrors.New(apperrors.KindValidation, "lock release failed: not the current holder")
	}
	return nil
}

// Extend atomically resets the lock's TTL, only if this Lock is still the
// current holder.
func (l *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	res, err := extendScript.Run(ctx, l.manager.rdb, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return apperrors.Wrap(apperrors.KindStorage, "lock extend failed", err)
	}
	if res == 0 {
		return apperrors.New(apperrors.KindValidation, "lock extend failed: not the current holder")
	}
	return nil
}

// WithLock acquires key for the duration of fn, releasing it unconditionally
// on both the normal and the error exit path.
func (m *Manager) WithLock(ctx context.Context, key string, ttl time.Duration, waitTimeout time.Duration, fn func(ctx context.Context) error) error {
	lk, err := m.Acquire(ctx, key, ttl, true, waitTimeout)
	if err != nil {
		return err
	}
	defer lk.Release(ctx)
	return fn(ctx)
}

// SweepOrphans scans keys under pattern and removes any with no expiry set,
// per spec §4.B's orphan sweeper. A lock key only ever ends up without a
// TTL when Acquire was called with ttl<=0 and its holder crashed before
// Release ran a compare-and-delete; PTTL reports -1 for exactly that case
// (-2 means the key is already gone, and any non-negative value means the
// key is a live, TTL-bearing lock that isn't orphaned).
func (m *Manager) SweepOrphans(ctx context.Context, pattern string) (int, error) {
	var cursor uint64
	removed := 0
	for {
		keys, next, err := m.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return removed, apperrors.Wrap(apperrors.KindStorage, "orphan sweep scan failed", err)
		}
		for _, k := range keys {
			ttl, err := m.rdb.PTTL(ctx, k).Result()
			if err != nil {
				continue
			}
			if ttl == -1 {
				if err := m.rdb.Del(ctx, k).Err(); err == nil {
					removed++
				}
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return removed, nil
}
