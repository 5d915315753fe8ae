package embedding

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"
)

const defaultCacheMaxBytes = 100 * 1024 * 1024 // 100MB

// CacheStats reports cumulative cache activity.
type CacheStats struct {
	Hits     uint64
	Misses   uint64
	Entries  int
	BytesUsed int
	MaxBytes int
	HitRate  float64
}

// entry is the cached payload. The embedding slice is never mutated after
// insertion, so handing the same backing slice to every caller of Get is
// safe — Go's GC keeps it alive as long as any caller holds a reference,
// which gives the same no-copy-on-read property as the original's Arc<[f32]>.
type entry struct {
	embedding []float32
	sizeBytes int
}

// Cache is a thread-safe, byte-capacity-bounded LRU cache for embedding
// vectors, keyed by content hash. Capacity is enforced in bytes rather than
// entry count because embeddings vary in dimensionality across models.
type Cache struct {
	mu       sync.Mutex
	lru      *lru.LRU[string, *entry]
	maxBytes int
	bytesUsed int

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCache creates a cache with the given byte capacity. A non-positive
// value falls back to the 100MB default (roughly 25K embeddings at 1536
// dimensions).
func NewCache(maxBytes int) *Cache {
	if maxBytes <= 0 {
		maxBytes = defaultCacheMaxBytes
	}
	c := &Cache{maxBytes: maxBytes}
	// The inner LRU's own entry-count limit is left effectively unbounded;
	// eviction is driven entirely by our byte accounting via RemoveOldest.
	inner, _ := lru.NewLRU[string, *entry](1<<31-1, nil)
	c.lru = inner
	return c
}

// Get returns the cached embedding for key, or (nil, false) on a miss.
func (c *Cache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e.embedding, true
}

// Put inserts or replaces the embedding for key, evicting least-recently-used
// entries until the cache fits within its byte budget. An embedding larger
// than the entire budget is rejected rather than cached.
func (c *Cache) Put(key string, embedding []float32) {
	sizeBytes := len(embedding) * 4
	if sizeBytes > c.maxBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.lru.Peek(key); ok {
		c.bytesUsed -= old.sizeBytes
		c.lru.Remove(key)
	}

	for c.bytesUsed+sizeBytes > c.maxBytes {
		_, evicted, ok := c.lru.RemoveOldest()
		if !ok {
			break
		}
		c.bytesUsed -= evicted.sizeBytes
	}

	c.lru.Add(key, &entry{embedding: embedding, sizeBytes: sizeBytes})
	c.bytesUsed += sizeBytes
}

// Clear removes all entries without resetting the cumulative hit/miss counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.bytesUsed = 0
}

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a snapshot of cache activity.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	entries := c.lru.Len()
	bytesUsed := c.bytesUsed
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100.0
	}

	return CacheStats{
		Hits:      hits,
		Misses:    misses,
		Entries:   entries,
		BytesUsed: bytesUsed,
		MaxBytes:  c.maxBytes,
		HitRate:   hitRate,
	}
}
