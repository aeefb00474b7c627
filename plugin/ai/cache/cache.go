// Package cache provides the bounded, time-expiring caches used by the
// retrieval pipeline: one for embedding vectors, one for HyDE documents.
package cache

import (
	"strings"
	"sync"
	"time"
)

// Store is the contract the pipeline components depend on. One instance is
// injected per process so tests can substitute a deterministic clock and a
// tiny capacity.
type Store[V any] interface {
	// Get retrieves a value by its source text.
	// Returns the value and whether a live entry exists.
	Get(text string) (V, bool)

	// Put stores a value keyed by its source text, evicting the single
	// oldest entry first when the cache is at capacity.
	Put(text string, value V)
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock substitutes the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Cache is a mutex-guarded map with per-entry TTL and oldest-by-timestamp
// eviction. Eviction order is strictly by insert time, not access order:
// reading an entry does not refresh its age.
type Cache[V any] struct {
	capacity int
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*entry[V]
}

type entry[V any] struct {
	value     V
	createdAt time.Time
}

// New creates a cache with the given capacity and TTL.
// A ttl of zero means entries never expire.
func New[V any](capacity int, ttl time.Duration, opts ...Option) *Cache[V] {
	if capacity <= 0 {
		capacity = 1000
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return &Cache[V]{
		capacity: capacity,
		ttl:      ttl,
		now:      o.now,
		entries:  make(map[string]*entry[V]),
	}
}

// Get retrieves a value from the cache. An expired entry is treated as
// absent and removed.
func (c *Cache[V]) Get(text string) (V, bool) {
	key := NormalizeKey(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}

	if c.ttl > 0 && c.now().Sub(e.createdAt) > c.ttl {
		delete(c.entries, key)
		return zero, false
	}

	return e.value, true
}

// Put stores a value in the cache. If the cache is at capacity and the key
// is not already present, the single oldest entry by insert timestamp is
// evicted before insert.
func (c *Cache[V]) Put(text string, value V) {
	key := NormalizeKey(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.createdAt = c.now()
		return
	}

	if len(c.entries) >= c.capacity {
		c.evictOldest()
	}

	c.entries[key] = &entry[V]{
		value:     value,
		createdAt: c.now(),
	}
}

// Len returns the number of entries in the cache, expired ones included.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOldest removes the entry with the smallest insert timestamp.
// Must be called with the lock held.
func (c *Cache[V]) evictOldest() {
	var oldestKey string
	var oldestAt time.Time

	for key, e := range c.entries {
		if oldestKey == "" || e.createdAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = e.createdAt
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// NormalizeKey produces the cache key for a piece of source text:
// surrounding whitespace is trimmed and line endings are unified so that
// textually identical inputs share one entry.
func NormalizeKey(text string) string {
	return strings.ReplaceAll(strings.TrimSpace(text), "\r\n", "\n")
}
