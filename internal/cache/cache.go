package cache

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"

	"zedstore/internal/base"
)

// MinCacheSize holds a descent path plus a few concurrent cursors.
const MinCacheSize = 16

// PageCache is an LRU cache of decoded, clean pages. Dirty pages are
// pinned by the store's dirty set and never live here; an evicted clean
// page is simply re-read and re-decoded from disk.
type PageCache struct {
	lru *freelru.SyncedLRU[base.PageID, *base.Page]

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

func hashPageID(id base.PageID) uint32 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(id))
	return uint32(xxhash.Sum64(b[:]))
}

// New creates a cache holding at most maxSize decoded pages.
func New(maxSize int) (*PageCache, error) {
	maxSize = max(maxSize, MinCacheSize)

	lru, err := freelru.NewSynced[base.PageID, *base.Page](uint32(maxSize), hashPageID)
	if err != nil {
		return nil, err
	}

	c := &PageCache{lru: lru}
	lru.SetOnEvict(func(base.PageID, *base.Page) {
		c.evictions.Add(1)
	})
	return c, nil
}

// Get returns the cached decoded page, or (nil, false).
func (c *PageCache) Get(id base.PageID) (*base.Page, bool) {
	p, ok := c.lru.Get(id)
	if ok {
		c.hits.Add(1)
		return p, true
	}
	c.misses.Add(1)
	return nil, false
}

// Put caches a clean decoded page, replacing any previous entry.
func (c *PageCache) Put(p *base.Page) {
	c.lru.Add(p.ID, p)
}

// Drop removes a page from the cache. Called when a page turns dirty so
// the dirty set's copy is the only one reachable.
func (c *PageCache) Drop(id base.PageID) {
	c.lru.Remove(id)
}

// Len returns the number of cached pages.
func (c *PageCache) Len() int {
	return c.lru.Len()
}

// Stats are cumulative cache counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Stats returns cache statistics.
func (c *PageCache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}
