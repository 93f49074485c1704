// Package ttlcache is a bounded set with per-entry expiry, used to shed
// recently seen webhook deliveries before they hit the store. The store's
// uniqueness constraint remains the dedup guarantee; this is only a
// prefilter.
package ttlcache

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key  string
	exp  time.Time
	elem *list.Element
}

// Cache is a fixed-capacity set of string keys with TTL expiry, safe for
// concurrent use. When full, the least recently seen key is evicted.
type Cache struct {
	mu    sync.Mutex
	items map[string]*entry
	order *list.List // MRU at front, LRU at back
	max   int
	ttl   time.Duration

	now func() time.Time
}

// New creates a cache holding at most max keys for ttl each.
func New(max int, ttl time.Duration) *Cache {
	if max <= 0 {
		max = 1024
	}
	return &Cache{
		items: make(map[string]*entry, max),
		order: list.New(),
		max:   max,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Add records the key and reports whether it was new. A key already present
// and unexpired returns false.
func (c *Cache) Add(key string) bool {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		if now.Before(e.exp) {
			e.exp = now.Add(c.ttl)
			c.order.MoveToFront(e.elem)
			return false
		}
		// expired, treat as new
		e.exp = now.Add(c.ttl)
		c.order.MoveToFront(e.elem)
		return true
	}

	e := &entry{key: key, exp: now.Add(c.ttl)}
	e.elem = c.order.PushFront(e)
	c.items[key] = e
	if c.order.Len() > c.max {
		c.evictOldest()
	}
	return true
}

// Contains reports whether the key is present and unexpired, without
// refreshing it.
func (c *Cache) Contains(key string) bool {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	return ok && now.Before(e.exp)
}

// Len returns the number of tracked keys, including any not yet evicted
// expired ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) evictOldest() {
	back := c.order.Back()
	if back == nil {
		return
	}
	e := back.Value.(*entry)
	c.order.Remove(back)
	delete(c.items, e.key)
}
