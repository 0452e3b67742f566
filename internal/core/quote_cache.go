package core

import (
	"container/list"
	"sync"

	"PerpAMM/internal/observability"
)

// QuoteCache is an LRU of computed results keyed by SnapshotDigest.
// Safe for concurrent use; NATS and HTTP handlers share one instance.
type QuoteCache struct {
	mu       sync.Mutex
	capacity int
	cache    map[[32]byte]*list.Element
	lruList  *list.List

	evictions int64
	metrics   *observability.Metrics
}

type quoteEntry struct {
	key   [32]byte
	value interface{}
}

// NewQuoteCache creates a cache holding at most capacity results.
// capacity <= 0 disables caching. metrics may be nil.
func NewQuoteCache(capacity int, metrics *observability.Metrics) *QuoteCache {
	if capacity < 0 {
		capacity = 0
	}
	return &QuoteCache{
		capacity: capacity,
		cache:    make(map[[32]byte]*list.Element, capacity),
		lruList:  list.New(),
		metrics:  metrics,
	}
}

// Get returns the cached result (promotes to front).
func (c *QuoteCache) Get(key [32]byte) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.cache[key]
	if !exists {
		if c.metrics != nil {
			c.metrics.QuoteCacheMisses.Inc()
		}
		return nil, false
	}
	c.lruList.MoveToFront(elem)
	if c.metrics != nil {
		c.metrics.QuoteCacheHits.Inc()
	}
	return elem.Value.(*quoteEntry).value, true
}

// Put inserts or replaces a result.
func (c *QuoteCache) Put(key [32]byte, value interface{}) {
	if c.capacity == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.cache[key]; exists {
		elem.Value.(*quoteEntry).value = value
		c.lruList.MoveToFront(elem)
		return
	}

	elem := c.lruList.PushFront(&quoteEntry{key: key, value: value})
	c.cache[key] = elem

	if c.lruList.Len() > c.capacity {
		c.evictOldest()
	}
	if c.metrics != nil {
		c.metrics.QuoteCacheSize.Set(float64(c.lruList.Len()))
	}
}

func (c *QuoteCache) evictOldest() {
	elem := c.lruList.Back()
	if elem == nil {
		return
	}
	c.lruList.Remove(elem)
	delete(c.cache, elem.Value.(*quoteEntry).key)
	c.evictions++
	if c.metrics != nil {
		c.metrics.QuoteCacheEvictions.Inc()
	}
}

// Purge drops every entry, e.g. after a pool snapshot is replaced.
func (c *QuoteCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[[32]byte]*list.Element, c.capacity)
	c.lruList.Init()
	if c.metrics != nil {
		c.metrics.QuoteCacheSize.Set(0)
	}
}

// Size returns current number of entries
func (c *QuoteCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// Evictions returns total evictions
func (c *QuoteCache) Evictions() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictions
}
