// Package storage is the durable page layer under the btree: a single
// page file fronted by a write-ahead log, a decoded-page cache, a dirty
// set, per-page locks, and the per-attribute root-pointer directory on
// the meta page. The tree sees pages only in decoded form and always
// rewrites them wholesale; this package persists full replacement
// images, never incremental patches.
package storage

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"zedstore/internal/base"
	"zedstore/internal/cache"
	"zedstore/internal/osio"
	"zedstore/internal/wal"
)

var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("page store is closed")
)

const metaPageID base.PageID = 0

// Options configure a Store.
type Options struct {
	PageSize  int // fixed page capacity, store-wide
	CacheSize int // decoded pages kept in memory
}

// Store is the page store. All pages have the same fixed capacity;
// page 0 is the meta page and tree pages start at 1. Pages are
// allocated on demand and never freed.
type Store struct {
	mu sync.Mutex // guards meta state and the dirty set

	file     *os.File
	log      *wal.WAL
	pageSize int
	cache    *cache.PageCache
	locks    *lockTable

	nextPageID base.PageID
	flushSeq   uint64
	roots      map[uint16]base.PageID

	dirty map[base.PageID]*dirtyEntry

	closed bool
}

// dirtyEntry pins a modified decoded page until it reaches disk. The
// epoch detects re-dirtying during a concurrent flush.
type dirtyEntry struct {
	page  *base.Page
	epoch uint64
}

// Open opens or creates a page store at path. The write-ahead log
// lives alongside it at path + ".wal" and is replayed before the meta
// page is read, so a crash mid-flush is invisible to the caller.
func Open(path string, opts Options) (*Store, error) {
	if opts.PageSize == 0 {
		opts.PageSize = base.DefaultPageSize
	}
	if opts.PageSize < base.MinPageSize {
		return nil, fmt.Errorf("page size %d below minimum %d: %w",
			opts.PageSize, base.MinPageSize, base.ErrInvalidPageSize)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}

	log, err := wal.Open(path+".wal", opts.PageSize)
	if err != nil {
		file.Close()
		return nil, err
	}

	pc, err := cache.New(opts.CacheSize)
	if err != nil {
		file.Close()
		log.Close()
		return nil, err
	}

	s := &Store{
		file:     file,
		log:      log,
		pageSize: opts.PageSize,
		cache:    pc,
		locks:    newLockTable(),
		roots:    make(map[uint16]base.PageID),
		dirty:    make(map[base.PageID]*dirtyEntry),
	}

	if err := s.recover(); err != nil {
		file.Close()
		log.Close()
		return nil, err
	}
	return s, nil
}

// recover replays the log into the page file, then loads or
// initializes the meta page.
func (s *Store) recover() error {
	if _, err := s.log.Replay(s.writeImage); err != nil {
		return fmt.Errorf("wal replay: %w", err)
	}

	info, err := s.file.Stat()
	if err != nil {
		return err
	}

	if info.Size() == 0 {
		// Fresh store.
		s.nextPageID = 1
		m := s.snapshotMeta()
		image, err := m.encode()
		if err != nil {
			return err
		}
		if err := s.writeImage(metaPageID, image); err != nil {
			return err
		}
		return osio.Fdatasync(s.file)
	}

	image := make([]byte, s.pageSize)
	if _, err := s.file.ReadAt(image, 0); err != nil {
		return fmt.Errorf("read meta page: %w", err)
	}
	m, err := decodeMeta(image)
	if err != nil {
		return fmt.Errorf("decode meta page: %w", err)
	}
	if m.pageSize != s.pageSize {
		return fmt.Errorf("store has page size %d, opened with %d: %w",
			m.pageSize, s.pageSize, base.ErrInvalidPageSize)
	}
	s.nextPageID = m.nextPageID
	s.flushSeq = m.flushSeq
	s.roots = m.roots

	// Replayed images are durable only after a sync; cheap when the
	// log was empty.
	if err := osio.Fdatasync(s.file); err != nil {
		return err
	}
	return s.log.Reset()
}

// snapshotMeta builds the current meta under s.mu (or before the store
// is shared).
func (s *Store) snapshotMeta() *meta {
	roots := make(map[uint16]base.PageID, len(s.roots))
	for attr, id := range s.roots {
		roots[attr] = id
	}
	return &meta{
		pageSize:   s.pageSize,
		nextPageID: s.nextPageID,
		flushSeq:   s.flushSeq,
		roots:      roots,
	}
}

// PageSize returns the store-wide page capacity.
func (s *Store) PageSize() int {
	return s.pageSize
}

// Lock takes the exclusive lock on a page.
func (s *Store) Lock(id base.PageID) { s.locks.get(id).Lock() }

// Unlock releases the exclusive lock on a page.
func (s *Store) Unlock(id base.PageID) { s.locks.get(id).Unlock() }

// RLock takes the shared lock on a page.
func (s *Store) RLock(id base.PageID) { s.locks.get(id).RLock() }

// RUnlock releases the shared lock on a page.
func (s *Store) RUnlock(id base.PageID) { s.locks.get(id).RUnlock() }

// Allocate creates a new page at the given level with the given key
// bounds. The page starts dirty; it becomes reachable only once the
// caller links it into the tree. Callers lock it before publishing the
// ID anywhere.
func (s *Store) Allocate(level uint16, lokey, hikey base.RID) (*base.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	id := s.nextPageID
	s.nextPageID++

	p := &base.Page{
		ID:    id,
		Next:  base.InvalidPageID,
		LoKey: lokey,
		HiKey: hikey,
		Level: level,
	}
	s.dirty[id] = &dirtyEntry{page: p, epoch: 1}
	return p, nil
}

// Read returns the decoded page. The caller must hold the page's lock
// (shared or exclusive); the returned object is the canonical in-memory
// copy and is shared with other lock holders.
func (s *Store) Read(id base.PageID) (*base.Page, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if e, ok := s.dirty[id]; ok {
		s.mu.Unlock()
		return e.page, nil
	}
	s.mu.Unlock()

	if p, ok := s.cache.Get(id); ok {
		return p, nil
	}

	image := make([]byte, s.pageSize)
	if _, err := s.file.ReadAt(image, int64(id)*int64(s.pageSize)); err != nil {
		return nil, fmt.Errorf("read page %d: %w", id, err)
	}
	p, err := base.DeserializePage(id, image)
	if err != nil {
		return nil, err
	}
	s.cache.Put(p)
	return p, nil
}

// MarkDirty pins a modified page into the dirty set. Must be called
// while holding the page's exclusive lock, before releasing it.
func (s *Store) MarkDirty(p *base.Page) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.dirty[p.ID]; ok {
		e.page = p
		e.epoch++
	} else {
		s.dirty[p.ID] = &dirtyEntry{page: p, epoch: 1}
	}
	// Keep the dirty copy as the only reachable one.
	s.cache.Drop(p.ID)
}

// GetRoot returns the root page ID for an attribute. With create set,
// a missing root is materialized as an empty leaf spanning the whole
// RID space and registered in the directory in the same critical
// section as its allocation.
func (s *Store) GetRoot(attr uint16, create bool) (base.PageID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return base.InvalidPageID, ErrClosed
	}
	if id, ok := s.roots[attr]; ok {
		return id, nil
	}
	if !create {
		return base.InvalidPageID, nil
	}

	id := s.nextPageID
	s.nextPageID++
	p := &base.Page{
		ID:    id,
		Next:  base.InvalidPageID,
		LoKey: base.ZeroRID,
		HiKey: base.MaxRID,
		Level: 0,
	}
	s.dirty[id] = &dirtyEntry{page: p, epoch: 1}
	s.roots[attr] = id
	return id, nil
}

// SetRoot points an attribute's root at a new page. Persisted with the
// next flush in the same meta image as the allocator watermark.
func (s *Store) SetRoot(attr uint16, id base.PageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.roots[attr] = id
	return nil
}

// Flush writes every dirty page to disk: images go to the log first,
// then a commit marker, then the page file, then the log is reset. A
// crash before the commit marker loses nothing already acknowledged; a
// crash after it is repaired by replay.
func (s *Store) Flush() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	type flushPage struct {
		id    base.PageID
		page  *base.Page
		epoch uint64
	}
	pending := make([]flushPage, 0, len(s.dirty))
	for id, e := range s.dirty {
		pending = append(pending, flushPage{id: id, page: e.page, epoch: e.epoch})
	}
	seq := s.flushSeq + 1
	m := s.snapshotMeta()
	m.flushSeq = seq
	s.mu.Unlock()

	// Serialize each page under its shared lock so a concurrent writer
	// cannot hand us a half-rewritten item list.
	images := make([][]byte, len(pending))
	for i, fp := range pending {
		s.RLock(fp.id)
		image, err := fp.page.Serialize(s.pageSize)
		s.RUnlock(fp.id)
		if err != nil {
			return err
		}
		images[i] = image
	}
	metaImage, err := m.encode()
	if err != nil {
		return err
	}

	for i, fp := range pending {
		if err := s.log.AppendPage(seq, fp.id, images[i]); err != nil {
			return err
		}
	}
	if err := s.log.AppendPage(seq, metaPageID, metaImage); err != nil {
		return err
	}
	if err := s.log.AppendCommit(seq); err != nil {
		return err
	}
	if err := s.log.Sync(); err != nil {
		return err
	}

	for i, fp := range pending {
		if err := s.writeImage(fp.id, images[i]); err != nil {
			return err
		}
	}
	if err := s.writeImage(metaPageID, metaImage); err != nil {
		return err
	}
	if err := osio.Fdatasync(s.file); err != nil {
		return err
	}
	if err := s.log.Reset(); err != nil {
		return err
	}

	s.mu.Lock()
	s.flushSeq = seq
	for _, fp := range pending {
		if e, ok := s.dirty[fp.id]; ok && e.epoch == fp.epoch {
			delete(s.dirty, fp.id)
			s.cache.Put(e.page)
		}
		// Re-dirtied during the flush: keep it pinned for the next one.
	}
	s.mu.Unlock()
	return nil
}

// DirtyCount returns the number of pages pinned in the dirty set.
func (s *Store) DirtyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirty)
}

// CacheStats exposes the decoded-page cache counters.
func (s *Store) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// Close flushes and closes the store.
func (s *Store) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if err := s.log.Close(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// writeImage writes one page image at its file offset.
func (s *Store) writeImage(id base.PageID, image []byte) error {
	if len(image) != s.pageSize {
		return fmt.Errorf("write page %d: image size %d, page size %d: %w",
			id, len(image), s.pageSize, base.ErrInvalidPageSize)
	}
	if _, err := s.file.WriteAt(image, int64(id)*int64(s.pageSize)); err != nil {
		return fmt.Errorf("write page %d: %w", id, err)
	}
	return nil
}
