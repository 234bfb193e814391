// Package memory implements slicecache.Cache on patrickmn/go-cache.
package memory

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/papercomputeco/memlayer/pkg/slicecache"
	"github.com/papercomputeco/memlayer/pkg/state"
)

// Cache is an in-process slice cache.
type Cache struct {
	items  *gocache.Cache
	hits   atomic.Uint64
	misses atomic.Uint64
	now    func() time.Time
}

type item struct {
	mu    sync.Mutex
	entry slicecache.Entry
}

// New creates a cache whose entries default to ttl and are purged every
// cleanup interval.
func New(ttl, cleanup time.Duration) *Cache {
	return &Cache{
		items: gocache.New(ttl, cleanup),
		now:   time.Now,
	}
}

// Get returns a copy of the entry after bumping its counters.
func (c *Cache) Get(_ context.Context, key slicecache.Key) (*slicecache.Entry, bool, error) {
	v, ok := c.items.Get(key.String())
	if !ok {
		c.misses.Add(1)
		return nil, false, nil
	}
	c.hits.Add(1)

	it := v.(*item)
	it.mu.Lock()
	it.entry.AccessCount++
	it.entry.AccessedAt = c.now()
	cp := it.entry
	it.mu.Unlock()
	return &cp, true, nil
}

// Put stores slice under key for ttl.
func (c *Cache) Put(_ context.Context, key slicecache.Key, slice *state.Slice, ttl time.Duration) error {
	now := c.now()
	c.items.Set(key.String(), &item{entry: slicecache.Entry{
		Slice:       slice,
		AccessCount: 1,
		AccessedAt:  now,
		ExpiresAt:   now.Add(ttl),
	}}, ttl)
	return nil
}

// InvalidateBefore deletes the stream's entries for versions below version.
func (c *Cache) InvalidateBefore(_ context.Context, tenant, stream string, version int64) (int, error) {
	prefix := slicecache.StreamPrefix(tenant, stream)
	removed := 0
	for k := range c.items.Items() {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if v, ok := slicecache.VersionFromString(k); ok && v < version {
			c.items.Delete(k)
			removed++
		}
	}
	return removed, nil
}

// Sweep removes expired entries immediately instead of waiting for the
// janitor.
func (c *Cache) Sweep(_ context.Context) (int, error) {
	before := c.items.ItemCount()
	c.items.DeleteExpired()
	return before - c.items.ItemCount(), nil
}

func (c *Cache) Stats(_ context.Context) (slicecache.Stats, error) {
	return slicecache.Stats{
		Backend: "memory",
		Entries: len(c.items.Items()),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Close drops every entry.
func (c *Cache) Close() error {
	c.items.Flush()
	return nil
}
