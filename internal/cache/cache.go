// Package cache is a process-local read-model cache shielding the ledger
// from redundant aggregate queries. Entries are best-effort: a miss always
// degrades to a re-query, never to an error.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	value     interface{}
	expiresAt time.Time // zero means no TTL
}

// Cache stores values under string keys with optional per-entry TTLs.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// New constructs an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]entry), now: time.Now}
}

// NewWithClock constructs a cache with an injected clock, for tests.
func NewWithClock(now func() time.Time) *Cache {
	return &Cache{entries: make(map[string]entry), now: now}
}

// Get returns the cached value for key, or ok=false on a miss or an
// expired entry. Expired entries are dropped lazily.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a Set may have raced us. Values
		// may be uncomparable (slices), so compare expiries only.
		if cur, still := c.entries[key]; still && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// GetInt64 is Get for counter entries.
func (c *Cache) GetInt64(key string) (int64, bool) {
	v, ok := c.Get(key)
	if !ok {
		return 0, false
	}
	n, ok := v.(int64)
	return n, ok
}

// Set stores value under key. A zero ttl stores the entry without expiry;
// such entries live until explicitly overwritten or invalidated.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: exp}
	c.mu.Unlock()
}

// Increment adds one to an existing int64 entry, preserving its expiry.
// Absent keys are deliberately left absent: the true count must come from
// a full recount, not a guessed seed value.
func (c *Cache) Increment(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return
	}
	if n, ok := e.value.(int64); ok {
		e.value = n + 1
		c.entries[key] = e
	}
}

// Invalidate removes key if present.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
