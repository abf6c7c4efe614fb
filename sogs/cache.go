package sogs

import (
	"container/list"
	"sync"

	"go.uber.org/atomic"
)

// DefaultCacheCapacity is the default texture cache size in plane sets.
const DefaultCacheCapacity = 5

// TextureCache is a bounded LRU cache of decoded plane sets keyed by
// resource identity. Texture planes are expensive to reload, and several
// decodes of the same scene should share one set.
//
// The loader for a miss runs outside the lock so slow I/O never blocks
// unrelated lookups. On completion the cache is re-checked: if another
// caller populated the key meanwhile, the newly computed set is discarded
// in favor of the cached one. Duplicate work is possible and accepted;
// duplicate storage is not.
type TextureCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front is most recently used
	entries  map[string]*list.Element

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheEntry struct {
	key string
	set PlaneSet
}

// NewTextureCache returns a cache holding at most capacity plane sets;
// capacity <= 0 selects DefaultCacheCapacity.
func NewTextureCache(capacity int) *TextureCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &TextureCache{
		capacity: capacity,
		order:    list.New(),
		entries:  map[string]*list.Element{},
	}
}

// LoadOrStore returns the cached plane set for key, running load on a miss.
func (c *TextureCache) LoadOrStore(key string, load func() (PlaneSet, error)) (PlaneSet, error) {
	c.mu.Lock()
	if elem, ok := c.entries[key]; ok {
		c.order.MoveToFront(elem)
		c.mu.Unlock()
		c.hits.Inc()
		return elem.Value.(*cacheEntry).set, nil
	}
	c.mu.Unlock()
	c.misses.Inc()

	set, err := load()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		// A concurrent caller won the race; keep its value.
		c.order.MoveToFront(elem)
		return elem.Value.(*cacheEntry).set, nil
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, set: set})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
	return set, nil
}

// Len returns the number of cached plane sets.
func (c *TextureCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns cumulative hit and miss counts.
func (c *TextureCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
