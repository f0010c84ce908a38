package storage

import (
	"context"
	"sync"
)

// LRUCache is a thread-safe least-recently-used cache of blobs
type LRUCache struct {
	mutex    sync.Mutex
	capacity int
	items    map[string]*cacheNode
	head     *cacheNode // Most recently used
	tail     *cacheNode // Least recently used
	hits     int64
	misses   int64
}

type cacheNode struct {
	key   string
	value []byte
	prev  *cacheNode
	next  *cacheNode
}

// NewLRUCache creates a cache holding at most capacity blobs
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = 32
	}

	cache := &LRUCache{
		capacity: capacity,
		items:    make(map[string]*cacheNode),
	}

	// Sentinel head and tail
	cache.head = &cacheNode{}
	cache.tail = &cacheNode{}
	cache.head.next = cache.tail
	cache.tail.prev = cache.head

	return cache
}

// Get returns the cached blob and marks it recently used
func (c *LRUCache) Get(key string) ([]byte, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if node, exists := c.items[key]; exists {
		c.moveToFront(node)
		c.hits++
		return node.value, true
	}

	c.misses++
	return nil, false
}

// Put adds or replaces a blob, evicting the least recently used one when
// over capacity
func (c *LRUCache) Put(key string, value []byte) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if node, exists := c.items[key]; exists {
		node.value = value
		c.moveToFront(node)
		return
	}

	node := &cacheNode{key: key, value: value}
	c.addToFront(node)
	c.items[key] = node

	if len(c.items) > c.capacity {
		lru := c.tail.prev
		c.removeNode(lru)
		delete(c.items, lru.key)
	}
}

// Remove drops a key
func (c *LRUCache) Remove(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if node, exists := c.items[key]; exists {
		c.removeNode(node)
		delete(c.items, key)
	}
}

// Len returns the number of cached blobs
func (c *LRUCache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.items)
}

// Stats returns hit/miss counters
func (c *LRUCache) Stats() CacheStats {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	total := c.hits + c.misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(c.hits) / float64(total) * 100
	}

	return CacheStats{
		Hits:     c.hits,
		Misses:   c.misses,
		HitRate:  hitRate,
		Size:     len(c.items),
		Capacity: c.capacity,
	}
}

func (c *LRUCache) moveToFront(node *cacheNode) {
	c.removeNode(node)
	c.addToFront(node)
}

func (c *LRUCache) addToFront(node *cacheNode) {
	node.prev = c.head
	node.next = c.head.next
	c.head.next.prev = node
	c.head.next = node
}

func (c *LRUCache) removeNode(node *cacheNode) {
	node.prev.next = node.next
	node.next.prev = node.prev
}

// CacheStats reports cache effectiveness
type CacheStats struct {
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	HitRate  float64 `json:"hit_rate_percent"`
	Size     int     `json:"current_size"`
	Capacity int     `json:"max_capacity"`
}

// CachedStore puts a read-through LRU cache in front of a BlobStore. Writes
// go to the backing store first and refresh the cache on success.
type CachedStore struct {
	store BlobStore
	cache *LRUCache
}

// NewCachedStore wraps store with a cache of capacity blobs
func NewCachedStore(store BlobStore, capacity int) *CachedStore {
	return &CachedStore{store: store, cache: NewLRUCache(capacity)}
}

// LoadBytes serves from cache or loads and caches
func (s *CachedStore) LoadBytes(ctx context.Context, key string) ([]byte, error) {
	if data, ok := s.cache.Get(key); ok {
		return data, nil
	}
	data, err := s.store.LoadBytes(ctx, key)
	if err != nil {
		return nil, err
	}
	s.cache.Put(key, data)
	return data, nil
}

// SaveBytes writes through
func (s *CachedStore) SaveBytes(ctx context.Context, key string, data []byte) error {
	if err := s.store.SaveBytes(ctx, key, data); err != nil {
		s.cache.Remove(key)
		return err
	}
	s.cache.Put(key, data)
	return nil
}

// List is never cached
func (s *CachedStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.store.List(ctx, prefix)
}

// Stats returns cache counters
func (s *CachedStore) Stats() CacheStats {
	return s.cache.Stats()
}
