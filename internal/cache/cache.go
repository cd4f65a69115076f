// Package cache provides a bounded, thread-safe LRU cache used for embedding
// vectors and LLM responses. Entries beyond capacity evict the least recently
// used key; an optional TTL expires stale entries lazily on lookup.
//
// Caches here are explicit, injectable components: callers construct their
// own instance with a capacity rather than sharing an implicit singleton, so
// tests can use isolated caches and the embedding and response caches are
// sized independently.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRU is a fixed-capacity least-recently-used cache. The zero value is not
// usable; construct with New. Safe for concurrent use: all operations take
// a single cache-wide lock, which is acceptable for the read-mostly access
// pattern of embedding and response caches.
type LRU[V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List // front = most recently used
	entries  map[string]*list.Element

	hits   uint64
	misses uint64

	// now is replaceable in tests to exercise TTL expiry.
	now func() time.Time
}

// entry is the value stored in each list element.
type entry[V any] struct {
	key     string
	value   V
	addedAt time.Time
}

// New constructs an LRU with the given capacity. A ttl of zero disables
// expiry. Capacity must be at least 1; smaller values are clamped.
func New[V any](capacity int, ttl time.Duration) *LRU[V] {
	if capacity < 1 {
		capacity = 1
	}
	return &LRU[V]{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Get returns the cached value for key and refreshes its recency.
// Expired entries are removed and reported as misses.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}

	e := el.Value.(*entry[V])
	if c.ttl > 0 && c.now().Sub(e.addedAt) >= c.ttl {
		c.order.Remove(el)
		delete(c.entries, key)
		c.misses++
		return zero, false
	}

	c.order.MoveToFront(el)
	c.hits++
	return e.value, true
}

// Put stores value under key, updating recency if the key already exists.
// When the cache is over capacity the least recently used entry is evicted.
func (c *LRU[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.addedAt = c.now()
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&entry[V]{key: key, value: value, addedAt: c.now()})
	c.entries[key] = el

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry[V]).key)
	}
}

// Len returns the current number of entries.
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats reports cumulative cache effectiveness counters.
type Stats struct {
	Size     int
	Capacity int
	Hits     uint64
	Misses   uint64
}

// Stats returns a snapshot of the cache's size and hit/miss counters.
func (c *LRU[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:     c.order.Len(),
		Capacity: c.capacity,
		Hits:     c.hits,
		Misses:   c.misses,
	}
}
