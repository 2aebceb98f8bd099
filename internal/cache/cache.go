// Package cache provides the explicit TTL memoization store used by the
// endpoint registry and the path router. Keys are plain strings; callers
// build composite keys from canonicalized representations of structured
// inputs so that structurally identical data hits the same entry.
package cache

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// DefaultTTL is applied when a cache is created with a non-positive TTL.
const DefaultTTL = 1800 * time.Second

// entry wraps a cached value with expiry and insertion order tracking.
type entry struct {
	value     any
	expiry    time.Time
	insertIdx int64
}

// Cache is a thread-safe TTL cache with lazy expiry and oldest-first
// eviction at capacity. Expiry is advisory: entries are dropped when read
// past their deadline, never actively swept.
type Cache struct {
	mu         sync.RWMutex
	items      map[string]entry
	ttl        time.Duration
	maxEntries int
	nextIdx    int64
}

// New creates a Cache with the given TTL and max entry count.
// A non-positive ttl falls back to DefaultTTL; a non-positive maxEntries
// disables capacity eviction.
func New(ttl time.Duration, maxEntries int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		items:      make(map[string]entry),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// Key joins key components with ":". Components must already be primitive
// strings; use Canonical for structured values.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// Canonical serializes a structured value to a stable string for use as a
// key component. encoding/json sorts map keys, so maps with identical
// contents always produce identical strings regardless of insertion order.
// Callers are responsible for sorting slices whose order is not significant.
func Canonical(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		// Only unmarshalable inputs (channels, funcs) land here; those are
		// programmer errors, keyed distinctly rather than panicking.
		return "!" + err.Error()
	}
	return string(data)
}

// Get returns a cached value if present and not expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if time.Now().After(e.expiry) {
		// Expired: remove lazily
		c.mu.Lock()
		if e2, ok2 := c.items[key]; ok2 && time.Now().After(e2.expiry) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	return e.value, true
}

// Put stores a value under key with the cache's TTL.
// Evicts the oldest entry if at capacity. Concurrent writers to the same
// key race benignly: the last write observed is retained.
func (c *Cache) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := entry{
		value:     value,
		expiry:    time.Now().Add(c.ttl),
		insertIdx: c.nextIdx,
	}
	c.nextIdx++

	// Existing key: update in place, no capacity change
	if _, exists := c.items[key]; exists {
		c.items[key] = e
		return
	}

	if c.maxEntries > 0 && len(c.items) >= c.maxEntries {
		c.evictOldest()
	}

	c.items[key] = e
}

// Len returns the number of live entries, counting expired-but-unswept ones.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// evictOldest removes the entry with the lowest insertIdx. Must be called with mu held.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldestIdx int64 = -1

	for key, e := range c.items {
		if oldestIdx == -1 || e.insertIdx < oldestIdx {
			oldestIdx = e.insertIdx
			oldestKey = key
		}
	}

	if oldestKey != "" {
		delete(c.items, oldestKey)
	}
}
