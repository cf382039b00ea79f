// Package cache provides the process-local directory and search caches.
//
// Both caches are TTL maps with lazy expiry: entries past their deadline are
// treated as absent on Get and removed at that point. Correctness under
// multi-process deployments relies on short TTLs, not cross-process
// coherence.
package cache

import (
	"sync"
	"time"

	"github.com/wukibaka/cloudpaste/pkg/pathutil"
	"github.com/wukibaka/cloudpaste/pkg/types"
)

// Stats tracks cache effectiveness counters.
type Stats struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Invalidations uint64 `json:"invalidations"`
	Entries       int    `json:"entries"`
}

type dirEntry struct {
	listing   *types.DirectoryListing
	expiresAt time.Time
}

// DirectoryCache caches directory listings per (mountID, subPath) with an
// ancestor-chain invalidation walk for mutations.
type DirectoryCache struct {
	mu      sync.Mutex
	entries map[string]dirEntry
	stats   Stats

	maxEntries int
	clock      func() time.Time
}

// NewDirectoryCache creates an empty directory cache. maxEntries bounds the
// map; zero means unbounded.
func NewDirectoryCache(maxEntries int) *DirectoryCache {
	return &DirectoryCache{
		entries:    make(map[string]dirEntry),
		maxEntries: maxEntries,
		clock:      time.Now,
	}
}

// SetClock replaces the time source, used by tests.
func (c *DirectoryCache) SetClock(clock func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clock
}

func dirKey(mountID, subPath string) string {
	return mountID + "\x00" + subPath
}

// Get returns the cached listing for (mountID, subPath), or nil when absent
// or expired. Expired entries are removed on the way out.
func (c *DirectoryCache) Get(mountID, subPath string) *types.DirectoryListing {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := dirKey(mountID, subPath)
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
	return entry.listing
}

// Set stores a listing with the given TTL. Non-positive TTLs are ignored.
func (c *DirectoryCache) Set(mountID, subPath string, listing *types.DirectoryListing, ttl time.Duration) {
	if ttl <= 0 || listing == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictExpiredLocked()
		if len(c.entries) >= c.maxEntries {
			return
		}
	}
	c.entries[dirKey(mountID, subPath)] = dirEntry{
		listing:   listing,
		expiresAt: c.clock().Add(ttl),
	}
}

// Invalidate removes a single entry. Returns true when one was present.
func (c *DirectoryCache) Invalidate(mountID, subPath string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidateLocked(mountID, subPath)
}

func (c *DirectoryCache) invalidateLocked(mountID, subPath string) bool {
	key := dirKey(mountID, subPath)
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	c.stats.Invalidations++
	return true
}

// InvalidatePathAndAncestors walks from subPath up to the mount root,
// invalidating each directory along the way, and returns the number of
// entries removed. Mutations call this on their containing directory after
// success.
func (c *DirectoryCache) InvalidatePathAndAncestors(mountID, subPath string) int {
	dir := subPath
	if !pathutil.IsDirRef(dir) {
		dir = pathutil.ParentOf(dir)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for {
		if c.invalidateLocked(mountID, dir) {
			removed++
		}
		if dir == pathutil.Root {
			return removed
		}
		dir = pathutil.ParentOf(dir)
	}
}

// InvalidateMount drops every entry belonging to one mount.
func (c *DirectoryCache) InvalidateMount(mountID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := mountID + "\x00"
	removed := 0
	for key := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
			removed++
		}
	}
	c.stats.Invalidations += uint64(removed)
	return removed
}

// Stats returns a snapshot of the counters.
func (c *DirectoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.entries)
	return s
}

func (c *DirectoryCache) evictExpiredLocked() {
	now := c.clock()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}
