package cache

import (
	"sync"
	"time"
)

// TTL constants for different data types
const (
	// Device-mapper names are stable for the lifetime of a mapping
	TTLMapperName = 5 * time.Minute
)

// Entry holds a cached value with expiration
type Entry[V any] struct {
	Value     V
	ExpiresAt time.Time
}

// IsExpired returns true if the entry has expired
func (e *Entry[V]) IsExpired(now time.Time) bool {
	if e.ExpiresAt.IsZero() {
		return false
	}
	return now.After(e.ExpiresAt)
}

// Cache provides thread-safe TTL-based caching
type Cache[V any] struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*Entry[V]
}

// New creates a cache whose entries live for ttl. A zero ttl never expires.
func New[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*Entry[V]),
	}
}

// Get retrieves a value from cache; ok is false if expired or not found
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || entry.IsExpired(c.now()) {
		var zero V
		return zero, false
	}
	return entry.Value, true
}

// Set stores a value with the cache TTL
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &Entry[V]{Value: value}
	if c.ttl > 0 {
		entry.ExpiresAt = c.now().Add(c.ttl)
	}
	c.entries[key] = entry
}
