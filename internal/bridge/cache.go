package bridge

import (
	"sync"
	"time"
)

// Cache is a small keyed cache where each lookup names its own freshness
// bound. Entries are computed at most once per expiry window; concurrent
// callers for the same key share the stored value.
//
// Used for the machine-status snapshot behind the route planner, where a
// slightly stale read is fine but hammering the database per request is not.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*cacheEntry[V]
	now     func() time.Time
}

type cacheEntry[V any] struct {
	once    sync.Once
	value   V
	err     error
	expires time.Time
}

// NewCache creates an empty cache.
func NewCache[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{
		entries: make(map[K]*cacheEntry[V]),
		now:     time.Now,
	}
}

// GetOrInit returns the cached value for key if it is younger than ttl,
// otherwise computes it with f and stores it. A failed computation is not
// cached; the next caller retries.
func (c *Cache[K, V]) GetOrInit(key K, ttl time.Duration, f func() (V, error)) (V, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || c.now().After(e.expires) {
		e = &cacheEntry[V]{expires: c.now().Add(ttl)}
		c.entries[key] = e
	}
	c.mu.Unlock()

	e.once.Do(func() {
		e.value, e.err = f()
		if e.err != nil {
			c.mu.Lock()
			if c.entries[key] == e {
				delete(c.entries, key)
			}
			c.mu.Unlock()
		}
	})
	return e.value, e.err
}

// Invalidate drops the entry for key, forcing the next GetOrInit to
// recompute.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
