package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"

	"github.com/fluxcode/transcoder/pkg/metrics"
)

const (
	hourWindow = time.Hour
	dayWindow  = 24 * time.Hour

	hourExpireSeconds = 3600
	dayExpireSeconds  = 86400
)

// Result reports the outcome of a Check call.
type Result struct {
	Allowed        bool
	LimitHour      int64
	RemainingHour  int64
	LimitDay       int64
	RemainingDay   int64
	RetryAfterSecs int64
}

// Limiter evaluates requests against the tiered quota table, preferring a
// remote atomic counter and falling back to an in-process approximation
// when the remote store is unavailable.
type Limiter struct {
	rdb    *redis.Client
	tiers  map[Tier]TierConfig
	logger logr.Logger

	fallbackMu sync.Mutex
	fallback   map[string]*fallbackCounter
}

type fallbackCounter struct {
	count      int64
	windowFrom time.Time
}

// NewLimiter constructs a Limiter. rdb may be nil to force fallback-only
// operation (useful in tests and for graceful degradation).
func NewLimiter(rdb *redis.Client, tiers map[Tier]TierConfig, logger logr.Logger) *Limiter {
	if tiers == nil {
		tiers = DefaultTierConfigs
	}
	return &Limiter{rdb: rdb, tiers: tiers, logger: logger, fallback: make(map[string]*fallbackCounter)}
}

func windowKey(identifier string, now time.Time, window time.Duration) string {
	bucket := now.Unix() / int64(window.Seconds())
	return fmt.Sprintf("ratelimit:%s:%d:%d", identifier, int64(window.Seconds()), bucket)
}

// Check evaluates one request for identifier (client IP or credential) at
// tier, incrementing both the hourly and daily windows on the remote tier
// atomically. If the remote tier is unavailable, it evaluates a single
// hourly window against the in-process fallback map.
func (l *Limiter) Check(ctx context.Context, identifier string, tier Tier) Result {
	cfg, ok := l.tiers[tier]
	if !ok {
		cfg = l.tiers[TierFree]
	}

	if l.rdb != nil {
		if res, err := l.checkRemote(ctx, identifier, cfg); err == nil {
			if !res.Allowed {
				metrics.RateLimitRejectedTotal.WithLabelValues(string(tier)).Inc()
			}
			return res
		}
		l.logger.V(1).Info("rate limiter remote check failed, falling back", "identifier", identifier)
	}

	res := l.checkFallback(identifier, cfg)
	if !res.Allowed {
		metrics.RateLimitRejectedTotal.WithLabelValues(string(tier)).Inc()
	}
	return res
}

func (l *Limiter) checkRemote(ctx context.Context, identifier string, cfg TierConfig) (Result, error) {
	now := time.Now()
	hourKey := windowKey(identifier, now, hourWindow)
	dayKey := windowKey(identifier, now, dayWindow)

	pipe := l.rdb.TxPipeline()
	hourIncr := pipe.Incr(ctx, hourKey)
	pipe.Expire(ctx, hourKey, hourExpireSeconds*time.Second)
	dayIncr := pipe.Incr(ctx, dayKey)
	pipe.Expire(ctx, dayKey, dayExpireSeconds*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}

	hourCount := hourIncr.Val()
	dayCount := dayIncr.Val()

	remHour := cfg.HourlyLimit - hourCount
	if remHour < 0 {
		remHour = 0
	}
	remDay := cfg.DailyLimit - dayCount
	if remDay < 0 {
		remDay = 0
	}

	result := Result{
		Allowed:       true,
		LimitHour:     cfg.HourlyLimit,
		RemainingHour: remHour,
		LimitDay:      cfg.DailyLimit,
		RemainingDay:  remDay,
	}

	if hourCount > cfg.HourlyLimit {
		result.Allowed = false
		result.RetryAfterSecs = hourExpireSeconds
	} else if dayCount > cfg.DailyLimit {
		result.Allowed = false
		result.RetryAfterSecs = dayExpireSeconds
	}
	return result, nil
}

// checkFallback implements the single-hourly-window path used when the
// remote store is unreachable. Each call prunes windows older than an hour;
// the map is not pruned by least-recent use.
func (l *Limiter) checkFallback(identifier string, cfg TierConfig) Result {
	l.fallbackMu.Lock()
	defer l.fallbackMu.Unlock()

	now := time.Now()
	l.pruneFallbackLocked(now)

	c, ok := l.fallback[identifier]
	if !ok || now.Sub(c.windowFrom) >= hourWindow {
		c = &fallbackCounter{count: 0, windowFrom: now}
		l.fallback[identifier] = c
	}
	c.count++

	remaining := cfg.HourlyLimit - c.count
	if remaining < 0 {
		remaining = 0
	}

	allowed := c.count <= cfg.HourlyLimit
	retryAfter := int64(0)
	if !allowed {
		retryAfter = hourExpireSeconds
	}

	return Result{
		Allowed:       allowed,
		LimitHour:     cfg.HourlyLimit,
		RemainingHour: remaining,
		LimitDay:      cfg.DailyLimit,
		RemainingDay:  cfg.DailyLimit,
		RetryAfterSecs: retryAfter,
	}
}

// pruneFallbackLocked discards windows older than the hourly window,
// bounding the map's size. Caller must hold fallbackMu.
func (l *Limiter) pruneFallbackLocked(now time.Time) {
	for id, c := range l.fallback {
		if now.Sub(c.windowFrom) >= hourWindow {
			delete(l.fallback, id)
		}
	}
}
