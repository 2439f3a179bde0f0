package cache

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryCache implements Cache with an expirable LRU
type MemoryCache[V any] struct {
	name     string
	capacity int
	ttl      time.Duration
	lru      *expirable.LRU[string, V]

	hits    atomic.Uint64
	misses  atomic.Uint64
	removed atomic.Uint64
}

// NewMemoryCache creates a cache holding at most capacity entries, each for ttl
func NewMemoryCache[V any](name string, capacity int, ttl time.Duration) *MemoryCache[V] {
	c := &MemoryCache[V]{
		name:     name,
		capacity: capacity,
		ttl:      ttl,
	}
	c.lru = expirable.NewLRU[string, V](capacity, func(string, V) {
		c.removed.Add(1)
	}, ttl)
	return c
}

// Get retrieves a value; expired entries are misses regardless of capacity
func (c *MemoryCache[V]) Get(key string) (V, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Set stores a value with the cache TTL
func (c *MemoryCache[V]) Set(key string, value V) {
	c.lru.Add(key, value)
}

// Delete removes a value
func (c *MemoryCache[V]) Delete(key string) {
	c.lru.Remove(key)
}

// Stats returns current counters
func (c *MemoryCache[V]) Stats() Stats {
	return Stats{
		Name:     c.name,
		Size:     c.lru.Len(),
		Capacity: c.capacity,
		TTLMs:    c.ttl.Milliseconds(),
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Removed:  c.removed.Load(),
	}
}
