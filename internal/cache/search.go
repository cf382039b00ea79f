package cache

import (
	"sync"
	"time"
)

// DefaultSearchTTL is the lifetime of a cached search result page.
const DefaultSearchTTL = 300 * time.Second

type searchEntry struct {
	value     interface{}
	expiresAt time.Time
}

// SearchCache caches complete search result pages keyed by
// (query, scope, scopeTarget, principal identity). Empty result sets bypass
// the cache so a just-uploaded file becomes findable without waiting out the
// TTL.
type SearchCache struct {
	mu      sync.Mutex
	entries map[searchKey]searchEntry
	ttl     time.Duration
	stats   Stats
	clock   func() time.Time
}

type searchKey struct {
	query       string
	scope       string
	scopeTarget string
	principal   string
}

// NewSearchCache creates a search cache with the given TTL; zero selects
// DefaultSearchTTL.
func NewSearchCache(ttl time.Duration) *SearchCache {
	if ttl <= 0 {
		ttl = DefaultSearchTTL
	}
	return &SearchCache{
		entries: make(map[searchKey]searchEntry),
		ttl:     ttl,
		clock:   time.Now,
	}
}

// SetClock replaces the time source, used by tests.
func (c *SearchCache) SetClock(clock func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clock
}

// Get returns the cached page, or nil when absent or expired.
func (c *SearchCache) Get(query, scope, scopeTarget, principal string) interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := searchKey{query, scope, scopeTarget, principal}
	entry, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil
	}
	if c.clock().After(entry.expiresAt) {
		delete(c.entries, key)
		c.stats.Misses++
		return nil
	}
	c.stats.Hits++
	return entry.value
}

// Set stores a result page. A nil value is ignored.
func (c *SearchCache) Set(query, scope, scopeTarget, principal string, value interface{}) {
	if value == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[searchKey{query, scope, scopeTarget, principal}] = searchEntry{
		value:     value,
		expiresAt: c.clock().Add(c.ttl),
	}
}

// Clear drops every cached page.
func (c *SearchCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Invalidations += uint64(len(c.entries))
	c.entries = make(map[searchKey]searchEntry)
}

// Stats returns a snapshot of the counters.
func (c *SearchCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.entries)
	return s
}
