package state

import (
	"container/list"
	"sync"
	"time"
)

// DefaultCacheTTL is the suggested per-entry TTL (§4.3).
const DefaultCacheTTL = 60 * time.Second

// DefaultCacheSize is the suggested maximum resident entry count (§4.3).
const DefaultCacheSize = 10_000

type cacheEntry struct {
	key       string
	value     any
	expiresAt time.Time
	elem      *list.Element
}

// cache is a size-bounded, write-through cache with per-entry TTL. On
// eviction due to size, the least-recently-*inserted* entry goes first
// (insertion order approximates true LRU, per spec.md §4.3).
type cache struct {
	mu       sync.Mutex
	ttl      time.Duration
	maxSize  int
	entries  map[string]*cacheEntry
	order    *list.List // front = oldest insertion
}

func newCache(ttl time.Duration, maxSize int) *cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	return &cache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
	}
}

func (c *cache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.removeLocked(e)
		return nil, false
	}
	return e.value, true
}

func (c *cache) set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = time.Now().Add(c.ttl)
		return
	}

	e := &cacheEntry{key: key, value: value, expiresAt: time.Now().Add(c.ttl)}
	e.elem = c.order.PushBack(e)
	c.entries[key] = e

	for len(c.entries) > c.maxSize {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*cacheEntry))
	}
}

func (c *cache) delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
}

// removeLocked must be called with mu held.
func (c *cache) removeLocked(e *cacheEntry) {
	delete(c.entries, e.key)
	c.order.Remove(e.elem)
}

func (c *cache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.order.Init()
}

func (c *cache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
