// Package cache is the Embedding Cache (C3): a process-local bounded
// mapping from content fingerprint to embedding vector, backed by an LRU
// with insertion-order eviction and a TTL on every entry.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

const (
	// DefaultCapacity is the default number of entries the cache holds.
	DefaultCapacity = 10000
	// DefaultTTL is how long an entry remains valid after insertion.
	DefaultTTL = time.Hour
)

// entry pairs a vector with the time it was stored, so TTL can be
// evaluated at lookup time without a background sweep.
type entry struct {
	vector    []float32
	tag       string
	storedAt  time.Time
}

// Stats is a point-in-time snapshot of cache utilization, exposed through
// the API's metrics endpoint.
type Stats struct {
	Hits    int64
	Misses  int64
	Size    int
	HitRate float64
}

// Cache is the C3 component. It is safe for concurrent use.
type Cache struct {
	mu     sync.Mutex
	lru    *lru.Cache[string, entry]
	ttl    time.Duration
	logger zerolog.Logger

	hits   int64
	misses int64
}

// New builds a Cache with the given capacity and TTL. A non-positive
// capacity or TTL falls back to the package defaults.
func New(capacity int, ttl time.Duration, logger zerolog.Logger) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	backing, err := lru.New[string, entry](capacity)
	if err != nil {
		// Only returns an error for a non-positive size, which is guarded
		// above, so this is unreachable in practice.
		backing, _ = lru.New[string, entry](DefaultCapacity)
	}

	return &Cache{
		lru:    backing,
		ttl:    ttl,
		logger: logger.With().Str("component", "embedding_cache").Logger(),
	}
}

// Get returns the cached vector for fingerprint, and whether it was
// present and unexpired. An expired entry counts as a miss and is
// evicted from the underlying LRU.
func (c *Cache) Get(fingerprint string) ([]float32, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Peek(fingerprint)
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, "", false
	}
	if time.Since(e.storedAt) > c.ttl {
		c.lru.Remove(fingerprint)
		atomic.AddInt64(&c.misses, 1)
		return nil, "", false
	}

	atomic.AddInt64(&c.hits, 1)
	return e.vector, e.tag, true
}

// Put stores vector under fingerprint, tagged with the provider that
// produced it. When the cache is at capacity, the LRU evicts the oldest
// entry by insertion order.
func (c *Cache) Put(fingerprint string, vector []float32, tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(fingerprint, entry{vector: vector, tag: tag, storedAt: time.Now()})
}

// Invalidate drops fingerprint from the cache regardless of TTL. Used by
// the optional Redis invalidation-hint subscriber so a merge applied on
// one process evicts the stale entry on every other process sharing the
// same embedding cache semantics.
func (c *Cache) Invalidate(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(fingerprint)
}

// Stats returns a snapshot of hit/miss counters and current size.
func (c *Cache) Stats() Stats {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)

	c.mu.Lock()
	size := c.lru.Len()
	c.mu.Unlock()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{Hits: hits, Misses: misses, Size: size, HitRate: hitRate}
}
