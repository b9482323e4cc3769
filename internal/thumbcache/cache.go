package thumbcache

import (
	"container/list"
	"image"
	"sync"
)

// Cache is a bounded key->image store with count and total-byte budgets.
// Eviction is least-recently-used by access order. Safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	maxEntries int
	maxBytes   int64
	cost       int64
	order      *list.List // front = most recently used
	items      map[string]*list.Element

	onEvict func()
}

type entry struct {
	key  string
	img  image.Image
	cost int64
}

// New creates a cache with the given budgets. Non-positive budgets fall back
// to defaults generous enough for a few hundred small thumbnails.
func New(maxEntries int, maxBytes int64) *Cache {
	if maxEntries <= 0 { maxEntries = 200 }
	if maxBytes <= 0 { maxBytes = 64 << 20 }
	return &Cache{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		order:      list.New(),
		items:      make(map[string]*list.Element),
	}
}

// OnEvict registers a callback invoked once per evicted entry, for metrics.
func (c *Cache) OnEvict(fn func()) { c.onEvict = fn }

// Get returns the cached image for key and marks it most recently used.
func (c *Cache) Get(key string) (image.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry).img, true
}

// Put inserts or replaces key, then evicts least-recently-used entries until
// both budgets hold. The entry just inserted is never evicted, so a single
// oversize image is accepted at the price of emptying everything else.
func (c *Cache) Put(key string, img image.Image, cost int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		c.cost += cost - e.cost
		e.img = img
		e.cost = cost
		c.order.MoveToFront(el)
	} else {
		el := c.order.PushFront(&entry{key: key, img: img, cost: cost})
		c.items[key] = el
		c.cost += cost
	}

	for (len(c.items) > c.maxEntries || c.cost > c.maxBytes) && len(c.items) > 1 {
		c.evictOldest(key)
	}
}

// evictOldest removes the LRU entry, skipping keep. Caller holds the lock.
func (c *Cache) evictOldest(keep string) {
	el := c.order.Back()
	for el != nil && el.Value.(*entry).key == keep {
		el = el.Prev()
	}
	if el == nil {
		return
	}
	e := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.items, e.key)
	c.cost -= e.cost
	if c.onEvict != nil {
		c.onEvict()
	}
}

// Clear drops all entries unconditionally.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
	c.cost = 0
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Cost returns the current total byte cost.
func (c *Cache) Cost() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cost
}
