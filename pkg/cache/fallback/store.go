// Package fallback implements the bounded in-process cache tier that backs
// the two-tier cache (spec §4.A) when the remote tier is absent or errors.
package fallback

import (
	"path"
	"sort"
	"sync"
	"time"
)

// DefaultCap is the default fallback-tier entry cap from spec §6
// (cache_max_fallback_size).
const DefaultCap = 1000

type entry[T any] struct {
	value     T
	expiresAt *time.Time
}

func (e entry[T]) expired(now time.Time) bool {
	return e.expiresAt != nil && now.After(*e.expiresAt)
}

// Store is a bounded, per-entry-expiry, concurrency-safe map.
type Store[T any] struct {
	mu       sync.Mutex
	cap      int
	entries  map[string]entry[T]
}

// NewStore constructs a Store with the given capacity. A non-positive
// capacity falls back to DefaultCap.
func NewStore[T any](capacity int) *Store[T] {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Store[T]{cap: capacity, entries: make(map[string]entry[T])}
}

// pruneExpired removes every expired entry. Caller must hold s.mu.
func (s *Store[T]) pruneExpired(now time.Time) {
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
		}
	}
}

// evictIfOverCap removes the entries with the earliest expiry first until
// the store is back at or under capacity; entries with no expiry are
// evicted last. Caller must hold s.mu.
func (s *Store[T]) evictIfOverCap() {
	if len(s.entries) <= s.cap {
		return
	}
	type candidate struct {
		key    string
		expiry time.Time
		never  bool
	}
	candidates := make([]candidate, 0, len(s.entries))
	for k, e := range s.entries {
		if e.expiresAt == nil {
			candidates = append(candidates, candidate{key: k, never: true})
		} else {
			candidates = append(candidates, candidate{key: k, expiry: *e.expiresAt})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].never != candidates[j].never {
			return !candidates[i].never // never-expiring entries sort last
		}
		return candidates[i].expiry.Before(candidates[j].expiry)
	})
	excess := len(s.entries) - s.cap
	for i := 0; i < excess && i < len(candidates); i++ {
		delete(s.entries, candidates[i].key)
	}
}

// Set stores value under key with an optional TTL (zero means no expiry).
func (s *Store[T]) Set(key string, value T, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.pruneExpired(now)

	var exp *time.Time
	if ttl > 0 {
		t := now.Add(ttl)
		exp = &t
	}
	s.entries[key] = entry[T]{value: value, expiresAt: exp}
	s.evictIfOverCap()
}

// Get retrieves key, reporting false if absent or expired.
func (s *Store[T]) Get(key string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	e, ok := s.entries[key]
	if !ok {
		var zero T
		return zero, false
	}
	if e.expired(now) {
		delete(s.entries, key)
		var zero T
		return zero, false
	}
	return e.value, true
}

// Delete removes key, reporting whether it existed.
func (s *Store[T]) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	return ok
}

// Exists reports whether key is present and unexpired.
func (s *Store[T]) Exists(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// DeletePattern removes every key matching glob (exact glob semantics via
// path.Match — the spec calls out the original's substring-matching
// fallback as a bug to fix here) and returns the count removed.
func (s *Store[T]) DeletePattern(glob string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.pruneExpired(now)

	count := 0
	for k := range s.entries {
		matched, err := path.Match(glob, k)
		if err != nil {
			continue
		}
		if matched {
			delete(s.entries, k)
			count++
		}
	}
	return count
}

// Len reports the current entry count, pruning expired entries first.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneExpired(time.Now())
	return len(s.entries)
}

// ClearAll removes every entry.
func (s *Store[T]) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]entry[T])
}
