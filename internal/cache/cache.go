// Package cache provides the content-addressed result cache shared by all
// execution flavors. Entries are keyed by a hash of the semantic request
// content, expire after a per-entry TTL, and are evicted least-recently-used
// when capacity is exceeded.
package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultMaxSize is the entry capacity used when none is specified.
const DefaultMaxSize = 1000

// Stats is a point-in-time snapshot of cache counters. LRU capacity evictions
// and TTL expiries are counted separately.
type Stats struct {
	Hits           int64 `json:"hits"`
	Misses         int64 `json:"misses"`
	Evictions      int64 `json:"evictions"`
	StaleEvictions int64 `json:"stale_evictions"`
	Size           int   `json:"size"`
	MaxSize        int   `json:"max_size"`
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Cache is a bounded, TTL-aware LRU result cache. Safe for concurrent use.
//
// Only successful results belong here; the engine never writes failed,
// partial, or timed-out outputs. There is no per-function invalidation:
// content-addressed keys carry no function identity, so the only bulk
// operation offered is Purge.
type Cache struct {
	mu      sync.Mutex
	lru     *simplelru.LRU[string, *entry]
	maxSize int
	now     func() time.Time

	hits           int64
	misses         int64
	evictions      int64
	staleEvictions int64
}

// New creates a cache holding at most maxSize entries. A maxSize <= 0 falls
// back to DefaultMaxSize.
func New(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	// simplelru only errors on a non-positive size, which is excluded above.
	lru, _ := simplelru.NewLRU[string, *entry](maxSize, nil)
	return &Cache{
		lru:     lru,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get returns the cached value for key and whether it was present. A present
// but TTL-expired entry is removed, counted as a stale eviction, and reported
// as a miss. A hit refreshes the entry's LRU recency.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		return nil, false
	}
	if c.expired(e) {
		c.lru.Remove(key)
		c.staleEvictions++
		c.misses++
		return nil, false
	}
	c.hits++
	return e.value, true
}

// Put stores value under key with the given TTL. A ttl <= 0 means the entry
// never expires by time (it remains subject to LRU eviction). Re-putting an
// existing key updates the value and refreshes its recency.
func (c *Cache) Put(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &entry{value: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	if evicted := c.lru.Add(key, e); evicted {
		c.evictions++
	}
}

// Invalidate removes a specific entry. Removing an absent key is a no-op.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Purge removes every entry. This is the only bulk invalidation available:
// keys are content hashes, so entries cannot be enumerated by function ID.
// Counters are preserved so that hit/miss history survives a purge.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Sweep proactively removes TTL-expired entries and returns how many were
// dropped. Each removal is counted as a stale eviction.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed int
	for _, key := range c.lru.Keys() {
		e, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		if c.expired(e) {
			c.lru.Remove(key)
			c.staleEvictions++
			removed++
		}
	}
	return removed
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:           c.hits,
		Misses:         c.misses,
		Evictions:      c.evictions,
		StaleEvictions: c.staleEvictions,
		Size:           c.lru.Len(),
		MaxSize:        c.maxSize,
	}
}

func (c *Cache) expired(e *entry) bool {
	return !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt)
}
