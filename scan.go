package zedstore

import (
	"fmt"

	"zedstore/internal/base"
	"zedstore/internal/compress"
	"zedstore/internal/mvcc"
)

// Row is one scan result. For attribute 1, Value excludes the row
// header and Visible reflects the scan's snapshot; other attributes
// report every row visible, since visibility is a row property kept on
// attribute 1 alone.
type Row struct {
	RID     RID
	Value   []byte
	Visible bool
}

// Scan is a forward cursor over one attribute. It holds no page lock
// between Next calls: the cursor remembers the current leaf and the
// next expected RID, re-reads the leaf under a share lock on each call,
// and follows sibling pointers right. A leaf split between calls moves
// items right, never left, so re-reading from the remembered position
// cannot skip or repeat a row. Not safe for concurrent use by multiple
// goroutines.
type Scan struct {
	tree    *Tree
	snap    *Snapshot
	active  bool
	pageID  base.PageID
	nextRID base.RID
	run     *compress.RunReader
}

// BeginScan opens a cursor at the first row whose RID is at or after
// start. A start with the invalid offset 0 rounds up to the first row
// of its block. An attribute with no rows yet yields an inactive cursor
// that reports end of scan immediately. The snapshot may be nil for
// attributes other than 1.
func (t *Tree) BeginScan(start RID, snap *Snapshot) (*Scan, error) {
	if !start.Valid() {
		start.Off = 1
	}
	rootID, err := t.store.GetRoot(t.attr, false)
	if err != nil {
		return nil, err
	}
	if rootID == base.InvalidPageID {
		return &Scan{tree: t}, nil
	}

	leaf, err := t.descend(rootID, start, 0, true)
	if err != nil {
		return nil, err
	}
	id := leaf.ID
	t.store.RUnlock(id)

	return &Scan{
		tree:    t,
		snap:    snap,
		active:  true,
		pageID:  id,
		nextRID: start,
	}, nil
}

// Next returns the next row, or (nil, nil) at end of scan. Compressed
// runs are decoded transparently; the decode stream is drained across
// calls without holding any page lock.
func (s *Scan) Next() (*Row, error) {
	for {
		if !s.active {
			return nil, nil
		}

		if s.run != nil {
			row, err := s.nextFromRun()
			if err != nil {
				return nil, err
			}
			if row != nil {
				return row, nil
			}
		}

		row, err := s.nextFromPage()
		if err != nil {
			return nil, err
		}
		if row != nil {
			return row, nil
		}
	}
}

// nextFromRun drains the open decode stream. Returns nil with the
// stream closed when no remaining entry reaches the cursor position.
func (s *Scan) nextFromRun() (*Row, error) {
	for {
		it, err := s.run.Next()
		if err != nil {
			return nil, err
		}
		if it == nil {
			s.run = nil
			return nil, nil
		}
		if it.Last.Less(s.nextRID) {
			continue
		}
		return s.emit(it)
	}
}

// nextFromPage re-reads the current leaf under a share lock and either
// emits the next uncompressed row, opens a decode stream over the next
// compressed run, or advances to the right sibling. Payload bytes are
// copied out before the lock drops.
func (s *Scan) nextFromPage() (*Row, error) {
	t := s.tree
	t.store.RLock(s.pageID)
	p, err := t.store.Read(s.pageID)
	if err != nil {
		t.store.RUnlock(s.pageID)
		return nil, err
	}

	for i := range p.Items {
		it := &p.Items[i]
		if it.Last.Less(s.nextRID) {
			continue
		}
		if it.Compressed() {
			run, err := compress.Decode(it)
			t.store.RUnlock(s.pageID)
			if err != nil {
				return nil, err
			}
			s.run = run
			return nil, nil
		}
		row, err := s.emit(it)
		t.store.RUnlock(s.pageID)
		return row, err
	}

	next := p.Next
	t.store.RUnlock(s.pageID)

	if next == s.pageID {
		return nil, fmt.Errorf("attr %d: page %d is its own right sibling: %w",
			t.attr, s.pageID, ErrCorrupted)
	}
	if next == base.InvalidPageID {
		s.active = false
		return nil, nil
	}
	s.pageID = next
	return nil, nil
}

// emit builds the result row from an uncompressed item and advances the
// cursor past it.
func (s *Scan) emit(it *base.Item) (*Row, error) {
	row := &Row{RID: it.First, Visible: true}

	payload := it.Payload
	if s.tree.attr == 1 {
		hdr, err := mvcc.DecodeRowHeader(payload)
		if err != nil {
			return nil, err
		}
		if s.snap != nil {
			row.Visible = mvcc.Visible(&hdr, it.First, s.snap)
		}
		payload = payload[mvcc.RowHeaderSize:]
	}
	row.Value = append([]byte(nil), payload...)

	s.nextRID = it.First.Next()
	return row, nil
}

// Delete locates rid on attribute 1 and stamps its row header deleted
// under the deleting transaction. Returns false when the row does not
// exist. A row inside a compressed run cannot be deleted in place;
// the call reports ErrCompressedDelete and leaves the run intact.
func (t *Tree) Delete(rid RID, xid uint64) (bool, error) {
	if t.attr != 1 {
		return false, fmt.Errorf("delete goes through attribute 1, not %d", t.attr)
	}
	if !rid.Valid() {
		return false, fmt.Errorf("rid %v: %w", rid, base.ErrInvalidOffset)
	}

	rootID, err := t.store.GetRoot(t.attr, false)
	if err != nil {
		return false, err
	}
	if rootID == base.InvalidPageID {
		return false, nil
	}

	leaf, err := t.descend(rootID, rid, 0, false)
	if err != nil {
		return false, err
	}

	for {
		for i := range leaf.Items {
			it := &leaf.Items[i]
			if it.Last.Less(rid) {
				continue
			}
			if rid.Less(it.First) {
				t.store.Unlock(leaf.ID)
				return false, nil
			}
			if it.Compressed() {
				t.store.Unlock(leaf.ID)
				return false, fmt.Errorf("rid %v: %w", rid, ErrCompressedDelete)
			}

			hdr, err := mvcc.DecodeRowHeader(it.Payload)
			if err != nil {
				t.store.Unlock(leaf.ID)
				return false, err
			}
			mvcc.MarkDeleted(&hdr, xid)
			hdr.Encode(it.Payload)
			t.store.MarkDirty(leaf)
			t.store.Unlock(leaf.ID)
			return true, nil
		}

		// The RID falls inside this leaf's range but no item reaches
		// it: the row was never stored. Only an in-flight split can
		// push it further right.
		if rid.Less(leaf.HiKey) {
			t.store.Unlock(leaf.ID)
			return false, nil
		}
		next := leaf.Next
		if next == leaf.ID {
			t.store.Unlock(leaf.ID)
			return false, fmt.Errorf("attr %d: page %d is its own right sibling: %w",
				t.attr, leaf.ID, ErrCorrupted)
		}
		t.store.Unlock(leaf.ID)
		if next == base.InvalidPageID {
			return false, nil
		}
		t.store.Lock(next)
		leaf, err = t.store.Read(next)
		if err != nil {
			t.store.Unlock(next)
			return false, err
		}
	}
}
