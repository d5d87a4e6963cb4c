// Package zedstore is a per-attribute copy-on-write B+-tree column
// store. Each table attribute gets its own tree keyed by row identifier
// (RID); values are appended at the tail, leaves compress cold runs in
// place, and in-flight splits stay invisible to concurrent operations
// through a follow-right sibling protocol.
package zedstore

import (
	"fmt"
	"sync"

	"zedstore/internal/base"
	"zedstore/internal/cache"
	"zedstore/internal/mvcc"
	"zedstore/internal/storage"
)

// Re-exported key and visibility types so callers never import the
// internal packages.
type (
	RID        = base.RID
	PageID     = base.PageID
	RowHeader  = mvcc.RowHeader
	Snapshot   = mvcc.Snapshot
	CacheStats = cache.Stats
)

var (
	// ZeroRID is the first assignable row identifier.
	ZeroRID = base.ZeroRID
	// MaxRID is the exclusive upper bound of the RID space.
	MaxRID = base.MaxRID
)

// DefaultPageSize is the page capacity used unless overridden.
const DefaultPageSize = base.DefaultPageSize

// SnapshotAt returns a snapshot that sees every transaction below xid.
func SnapshotAt(xid uint64) *Snapshot {
	return mvcc.SnapshotAt(xid)
}

// Store is a collection of per-attribute trees backed by one page file.
// Safe for concurrent use.
type Store struct {
	opts  Options
	pages *storage.Store

	mu    sync.Mutex
	trees map[uint16]*Tree
}

// Open opens or creates the store at path. A write-ahead log lives next
// to it at path+".wal"; any committed batch left over from a crash is
// replayed before the store becomes usable.
func Open(path string, opts ...Option) (*Store, error) {
	o := DefaultOptions()
	for _, fn := range opts {
		fn(&o)
	}

	pages, err := storage.Open(path, storage.Options{
		PageSize:  o.pageSize,
		CacheSize: o.cacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	o.logger.Info("store opened", "path", path, "page_size", o.pageSize)
	return &Store{
		opts:  o,
		pages: pages,
		trees: make(map[uint16]*Tree),
	}, nil
}

// Attribute returns the tree for an attribute number. Attribute 1
// carries the row headers and drives visibility for the whole row;
// higher attributes store bare column values. Attribute numbers start
// at 1.
func (s *Store) Attribute(attr uint16) (*Tree, error) {
	if attr == 0 {
		return nil, fmt.Errorf("attribute numbers start at 1")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.trees[attr]; ok {
		return t, nil
	}
	t := &Tree{store: s.pages, opts: &s.opts, attr: attr}
	s.trees[attr] = t
	return t, nil
}

// Flush persists every dirty page: images to the log, commit marker,
// then the page file.
func (s *Store) Flush() error {
	return s.pages.Flush()
}

// CacheStats reports page-cache hit/miss/eviction counters.
func (s *Store) CacheStats() CacheStats {
	return s.pages.CacheStats()
}

// Close flushes and closes the store.
func (s *Store) Close() error {
	if err := s.pages.Close(); err != nil {
		return err
	}
	s.opts.logger.Info("store closed")
	return nil
}
