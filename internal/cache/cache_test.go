package cache

import (
	"testing"
	"time"

	"github.com/wukibaka/cloudpaste/pkg/types"
)

func listing(path string) *types.DirectoryListing {
	return &types.DirectoryListing{Path: path}
}

func TestDirectoryCacheGetSet(t *testing.T) {
	c := NewDirectoryCache(0)

	if got := c.Get("m1", "/a/"); got != nil {
		t.Fatal("empty cache must miss")
	}

	c.Set("m1", "/a/", listing("/a/"), time.Minute)
	if got := c.Get("m1", "/a/"); got == nil || got.Path != "/a/" {
		t.Fatal("expected hit after Set")
	}
	if got := c.Get("m2", "/a/"); got != nil {
		t.Fatal("entries must be scoped per mount")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 2 {
		t.Errorf("stats = %+v, want 1 hit / 2 misses", stats)
	}
}

func TestDirectoryCacheTTLLapse(t *testing.T) {
	c := NewDirectoryCache(0)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })

	c.Set("m1", "/a/", listing("/a/"), 30*time.Second)
	if c.Get("m1", "/a/") == nil {
		t.Fatal("entry should be live before TTL")
	}

	now = now.Add(31 * time.Second)
	if c.Get("m1", "/a/") != nil {
		t.Fatal("entry must be absent after TTL")
	}
	if c.Stats().Entries != 0 {
		t.Error("expired entry must be removed lazily on Get")
	}
}

func TestDirectoryCacheZeroTTLIgnored(t *testing.T) {
	c := NewDirectoryCache(0)
	c.Set("m1", "/a/", listing("/a/"), 0)
	if c.Get("m1", "/a/") != nil {
		t.Fatal("zero TTL must not cache")
	}
}

func TestInvalidatePathAndAncestors(t *testing.T) {
	c := NewDirectoryCache(0)
	for _, p := range []string{"/", "/a/", "/a/b/", "/a/b/c/", "/other/"} {
		c.Set("m1", p, listing(p), time.Minute)
	}
	// Same paths under a different mount must survive.
	c.Set("m2", "/a/", listing("/a/"), time.Minute)

	removed := c.InvalidatePathAndAncestors("m1", "/a/b/c/x.txt")
	if removed != 4 {
		t.Fatalf("removed = %d, want 4 (/a/b/c/, /a/b/, /a/, /)", removed)
	}
	for _, p := range []string{"/", "/a/", "/a/b/", "/a/b/c/"} {
		if c.Get("m1", p) != nil {
			t.Errorf("entry %q must be invalidated", p)
		}
	}
	if c.Get("m1", "/other/") == nil {
		t.Error("sibling directory must survive")
	}
	if c.Get("m2", "/a/") == nil {
		t.Error("other mount must survive")
	}
}

func TestInvalidateMount(t *testing.T) {
	c := NewDirectoryCache(0)
	c.Set("m1", "/a/", listing("/a/"), time.Minute)
	c.Set("m1", "/b/", listing("/b/"), time.Minute)
	c.Set("m2", "/a/", listing("/a/"), time.Minute)

	if n := c.InvalidateMount("m1"); n != 2 {
		t.Fatalf("InvalidateMount removed %d, want 2", n)
	}
	if c.Get("m2", "/a/") == nil {
		t.Error("other mount must survive")
	}
}

func TestSearchCacheTTLAndKeying(t *testing.T) {
	c := NewSearchCache(300 * time.Second)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })

	c.Set("report", "global", "", "admin:1", []string{"hit"})

	if c.Get("report", "global", "", "admin:1") == nil {
		t.Fatal("expected hit for identical key")
	}
	if c.Get("report", "global", "", "apikey:2") != nil {
		t.Fatal("principal must be part of the key")
	}
	if c.Get("report", "mount", "m1", "admin:1") != nil {
		t.Fatal("scope must be part of the key")
	}

	now = now.Add(301 * time.Second)
	if c.Get("report", "global", "", "admin:1") != nil {
		t.Fatal("entry must expire after TTL")
	}
}

func TestSearchCacheSkipsNil(t *testing.T) {
	c := NewSearchCache(0)
	c.Set("q", "global", "", "admin:1", nil)
	if c.Stats().Entries != 0 {
		t.Error("nil values must not be cached")
	}
}
