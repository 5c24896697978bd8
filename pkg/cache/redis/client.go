// Package redis wraps go-redis/v9 as the remote cache tier, distributed
// lock store, and rate-limit counter store (spec §4.A, §4.B, §4.D).
package redis

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	goredis "github.com/redis/go-redis/v9"
)

// socketTimeout is the per-operation timeout from spec §5 ("Cache
// operations: 5 s socket timeout").
const socketTimeout = 5 * time.Second

// Client wraps a go-redis client with the socket timeout and logging this
// repository standardizes on.
type Client struct {
	rdb    *goredis.Client
	logger logr.Logger
}

// NewClient constructs a Client from go-redis options.
func NewClient(opts *goredis.Options, logger logr.Logger) *Client {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = socketTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = socketTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = socketTimeout
	}
	return &Client{rdb: goredis.NewClient(opts), logger: logger}
}

// Raw exposes the underlying go-redis client for components (lock,
// rate limiter) that need primitives beyond the cache's get/set surface.
func (c *Client) Raw() *goredis.Client {
	return c.rdb
}

// EnsureConnection pings the remote store, surfacing connectivity problems
// before the caller trusts the remote tier.
func (c *Client) EnsureConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, socketTimeout)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
