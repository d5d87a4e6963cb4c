package zedstore

import (
	"fmt"
	"sort"

	"zedstore/internal/base"
	"zedstore/internal/storage"
)

// Tree is one attribute's B+-tree. The key is the RID; leaves hold the
// attribute's values, internal pages hold routing downlinks. Obtained
// from Store.Attribute; safe for concurrent use.
type Tree struct {
	store *storage.Store
	opts  *Options
	attr  uint16
}

// Attr returns the attribute number this tree stores.
func (t *Tree) Attr() uint16 {
	return t.attr
}

func (t *Tree) lock(id base.PageID, shared bool) {
	if shared {
		t.store.RLock(id)
	} else {
		t.store.Lock(id)
	}
}

func (t *Tree) unlock(id base.PageID, shared bool) {
	if shared {
		t.store.RUnlock(id)
	} else {
		t.store.Unlock(id)
	}
}

// lowerBound returns the index of the rightmost downlink whose key is
// at most key. ok is false when every key is greater than key; on an
// internal page that means the tree is corrupt, because index 0 carries
// the page's implicit minimal key.
func lowerBound(links []base.Downlink, key base.RID) (int, bool) {
	n := sort.Search(len(links), func(i int) bool {
		return key.Less(links[i].Key)
	})
	if n == 0 {
		return 0, false
	}
	return n - 1, true
}

// descend walks from start down to the page at the target level whose
// key range covers key, and returns it locked (shared or exclusive per
// the shared flag). A page whose high key is at or below key was split
// concurrently; descent keeps level and follows the sibling pointer.
// Every page left via a right-walk is remembered; reaching any of them
// again means the sibling chain loops, which is corruption.
func (t *Tree) descend(start base.PageID, key base.RID, level uint16, shared bool) (*base.Page, error) {
	next := start
	expected := -1
	var walked map[base.PageID]struct{}

	for {
		if _, seen := walked[next]; seen {
			return nil, fmt.Errorf("attr %d: sibling chain loops at page %d: %w",
				t.attr, next, ErrCorrupted)
		}

		t.lock(next, shared)
		p, err := t.store.Read(next)
		if err != nil {
			t.unlock(next, shared)
			return nil, err
		}

		if expected == -1 {
			expected = int(p.Level)
		} else if int(p.Level) != expected {
			t.unlock(next, shared)
			return nil, fmt.Errorf("attr %d: page %d at level %d, expected %d: %w",
				t.attr, next, p.Level, expected, ErrCorrupted)
		}
		if int(level) > expected {
			t.unlock(next, shared)
			return nil, fmt.Errorf("attr %d: page %d at level %d below target level %d: %w",
				t.attr, next, p.Level, level, ErrCorrupted)
		}

		if !key.Less(p.HiKey) {
			// Concurrent split moved the boundary; the key now lives to
			// the right at the same level.
			sibling := p.Next
			t.unlock(next, shared)
			if sibling == base.InvalidPageID || sibling == next {
				return nil, fmt.Errorf("attr %d: page %d high key below %v with no right sibling: %w",
					t.attr, next, key, ErrCorrupted)
			}
			if walked == nil {
				walked = make(map[base.PageID]struct{})
			}
			walked[next] = struct{}{}
			next = sibling
			continue
		}

		if p.Level == level {
			return p, nil
		}

		idx, ok := lowerBound(p.Links, key)
		if !ok {
			t.unlock(next, shared)
			return nil, fmt.Errorf("attr %d: no downlink for %v on page %d: %w",
				t.attr, key, next, ErrCorrupted)
		}
		child := p.Links[idx].Child
		t.unlock(next, shared)
		next = child
		expected--
	}
}

// findDownlink re-locates the parent entry pointing at a child page,
// descending from the root to one level above the child. Returns the
// parent exclusively locked plus the entry index, or (nil, 0) when the
// child is the root and has no parent. The entry must point at the
// child exactly; anything else means the tree changed underneath an
// operation that holds the child's lock, which cannot happen in a
// consistent tree.
func (t *Tree) findDownlink(key base.RID, childID base.PageID, childLevel uint16) (*base.Page, int, error) {
	rootID, err := t.store.GetRoot(t.attr, false)
	if err != nil {
		return nil, 0, err
	}
	if rootID == childID {
		return nil, 0, nil
	}

	parent, err := t.descend(rootID, key, childLevel+1, false)
	if err != nil {
		return nil, 0, err
	}
	idx, ok := lowerBound(parent.Links, key)
	if !ok || parent.Links[idx].Child != childID {
		t.store.Unlock(parent.ID)
		return nil, 0, fmt.Errorf("attr %d: downlink for page %d not found under key %v: %w",
			t.attr, childID, key, ErrCorrupted)
	}
	return parent, idx, nil
}

// findInsertionTarget returns the rightmost leaf, exclusively locked.
// New rows always append at the tail; there is no free-space-aware
// placement.
func (t *Tree) findInsertionTarget(rootID base.PageID) (*base.Page, error) {
	return t.descend(rootID, base.RightmostRID, 0, false)
}

// LastRID returns the RID the next insert would be assigned: one past
// the last stored row, or the zero RID for an attribute with no rows.
func (t *Tree) LastRID() (RID, error) {
	rootID, err := t.store.GetRoot(t.attr, false)
	if err != nil {
		return RID{}, err
	}
	if rootID == base.InvalidPageID {
		return base.ZeroRID, nil
	}

	leaf, err := t.descend(rootID, base.RightmostRID, 0, true)
	if err != nil {
		return RID{}, err
	}
	rid := leaf.LoKey
	if last := leaf.LastItem(); last != nil {
		rid = last.Last.Next()
	}
	t.store.RUnlock(leaf.ID)
	return rid, nil
}
