package zedstore

import (
	"fmt"

	"zedstore/internal/base"
	"zedstore/internal/compress"
	"zedstore/internal/mvcc"
)

// Insert appends a value to the attribute and returns the RID it was
// assigned. Attribute 1 requires a row header carrying the inserting
// transaction; the header is prepended to the stored payload and later
// drives visibility for the whole row. RIDs are assigned inside the
// leaf's lock, so concurrent inserts never collide.
func (t *Tree) Insert(value []byte, hdr *RowHeader) (RID, error) {
	if t.attr == 1 && hdr == nil {
		return RID{}, ErrNoRowHeader
	}

	payload := value
	if t.attr == 1 {
		payload = make([]byte, mvcc.RowHeaderSize+len(value))
		hdr.Encode(payload)
		copy(payload[mvcc.RowHeaderSize:], value)
	}

	if base.ItemHeaderSize+len(payload) > t.store.PageSize()-base.PageHeaderSize {
		return RID{}, fmt.Errorf("%d byte payload: %w", len(payload), ErrValueTooLarge)
	}

	rootID, err := t.store.GetRoot(t.attr, true)
	if err != nil {
		return RID{}, err
	}
	leaf, err := t.findInsertionTarget(rootID)
	if err != nil {
		return RID{}, err
	}
	return t.insertToLeaf(leaf, payload)
}

// insertToLeaf places a new item on the exclusively-locked leaf,
// consuming the lock. The new RID is one past the last item's covered
// range, or the leaf's low key when the leaf is empty. A full leaf
// first tries a compression pass; only when that does not free enough
// room does the leaf split.
func (t *Tree) insertToLeaf(leaf *base.Page, payload []byte) (RID, error) {
	rid := leaf.LoKey
	if last := leaf.LastItem(); last != nil {
		rid = last.Last.Next()
	}
	item := base.PlainItem(rid, payload)

	ps := t.store.PageSize()
	if item.EncodedSize() <= leaf.FreeSpace(ps) {
		leaf.Items = append(leaf.Items, item)
		t.store.MarkDirty(leaf)
		t.store.Unlock(leaf.ID)
		return rid, nil
	}

	if t.opts.compression && t.compressLeaf(leaf) {
		if item.EncodedSize() <= leaf.FreeSpace(ps) {
			leaf.Items = append(leaf.Items, item)
			t.store.MarkDirty(leaf)
			t.store.Unlock(leaf.ID)
			return rid, nil
		}
	}

	if err := t.splitLeaf(leaf, item); err != nil {
		return RID{}, err
	}
	return rid, nil
}

// compressLeaf rewrites the leaf's item list, merging consecutive
// uncompressed items into compressed runs. Already-compressed items
// pass through unchanged and force-flush any open batch; runs are never
// merged or re-expanded. The rewrite is all or nothing: if the new list
// would not fit, or would not be smaller, the leaf is left untouched
// and the caller falls through to a split. Caller holds the leaf's
// exclusive lock.
func (t *Tree) compressLeaf(leaf *base.Page) bool {
	ps := t.store.PageSize()
	hint := ps - base.PageHeaderSize

	out := make([]base.Item, 0, len(leaf.Items))
	used := base.PageHeaderSize
	batch := compress.NewBatch(hint)

	emit := func(it base.Item) bool {
		if used+it.EncodedSize() > ps {
			return false
		}
		out = append(out, it)
		used += it.EncodedSize()
		return true
	}
	flush := func() bool {
		if batch.Len() == 0 {
			return true
		}
		it, err := batch.Finish()
		if err != nil || !emit(it) {
			return false
		}
		batch = compress.NewBatch(hint)
		return true
	}

	for i := range leaf.Items {
		it := leaf.Items[i]
		if it.Compressed() {
			if !flush() || !emit(it) {
				return false
			}
			continue
		}
		if batch.Add(&it) {
			continue
		}
		if !flush() {
			return false
		}
		// Retry against the fresh batch; an item the codec rejects even
		// there is not compressible alone and passes through raw.
		if batch.Add(&it) {
			continue
		}
		if !emit(it) {
			return false
		}
	}
	if !flush() {
		return false
	}
	if used >= leaf.UsedSpace() {
		return false
	}

	leaf.Items = out
	t.store.MarkDirty(leaf)
	return true
}

// splitLeaf splits an exclusively-locked full leaf at a tail split
// point and links the new right sibling into the parent, consuming the
// leaf's lock. The preferred split RID is the first offset of the block
// after the leaf's low key; when the leaf's items already reach past
// that point, or the new item falls short of it, the split RID clamps
// to the new item's RID so the item lands on the page whose key range
// contains it.
func (t *Tree) splitLeaf(leaf *base.Page, item base.Item) error {
	splitRID := base.RID{Block: leaf.LoKey.Block + 1, Off: 1}
	if last := leaf.LastItem(); last != nil && !last.Last.Less(splitRID) {
		splitRID = item.First
	}
	if item.First.Less(splitRID) {
		splitRID = item.First
	}

	boundary := len(leaf.Items)
	for i := range leaf.Items {
		if !leaf.Items[i].First.Less(splitRID) {
			boundary = i
			break
		}
	}
	leftItems := leaf.Items[:boundary:boundary]
	rightItems := append([]base.Item(nil), leaf.Items[boundary:]...)
	if item.First.Less(splitRID) {
		leftItems = append(leftItems, item)
	} else {
		rightItems = append(rightItems, item)
	}

	right, err := t.store.Allocate(leaf.Level, splitRID, leaf.HiKey)
	if err != nil {
		t.store.Unlock(leaf.ID)
		return err
	}
	t.store.Lock(right.ID)

	right.Next = leaf.Next
	right.Items = rightItems

	leaf.HiKey = splitRID
	leaf.Next = right.ID
	leaf.Flags |= base.FlagFollowRight
	leaf.Items = leftItems

	ps := t.store.PageSize()
	if leaf.UsedSpace() > ps || right.UsedSpace() > ps {
		t.store.Unlock(right.ID)
		t.store.Unlock(leaf.ID)
		return fmt.Errorf("attr %d: split of page %d still overflows: %w",
			t.attr, leaf.ID, ErrCorrupted)
	}

	t.store.MarkDirty(leaf)
	t.store.MarkDirty(right)

	t.opts.logger.Info("leaf split",
		"attr", t.attr, "left", leaf.ID, "right", right.ID, "split_rid", splitRID)

	return t.insertDownlink(leaf, right)
}

// insertDownlink links a freshly split right page into the tree. Both
// pages arrive exclusively locked and both locks are released before
// returning. Propagation is a loop, not recursion: each full parent
// splits in turn, and the pair to link becomes the parent and its new
// sibling. The left page's follow-right flag comes off only once its
// downlink level is settled, which is what makes the multi-page split
// atomic to everyone else.
func (t *Tree) insertDownlink(left, right *base.Page) error {
	ps := t.store.PageSize()
	for {
		parent, idx, err := t.findDownlink(left.LoKey, left.ID, left.Level)
		if err != nil {
			t.store.Unlock(right.ID)
			t.store.Unlock(left.ID)
			return err
		}
		if parent == nil {
			return t.newRoot(left, right)
		}

		if parent.FitsDownlink(ps) {
			link := base.Downlink{Key: right.LoKey, Child: right.ID}
			parent.Links = append(parent.Links, base.Downlink{})
			copy(parent.Links[idx+2:], parent.Links[idx+1:])
			parent.Links[idx+1] = link

			left.Flags &^= base.FlagFollowRight
			t.store.MarkDirty(left)
			t.store.MarkDirty(parent)

			t.store.Unlock(right.ID)
			t.store.Unlock(left.ID)
			t.store.Unlock(parent.ID)
			return nil
		}

		newRight, err := t.splitInternal(parent, base.Downlink{Key: right.LoKey, Child: right.ID})
		if err != nil {
			t.store.Unlock(parent.ID)
			t.store.Unlock(right.ID)
			t.store.Unlock(left.ID)
			return err
		}

		// The child pair is linked now; its split is complete. The
		// parent's own split propagates next.
		left.Flags &^= base.FlagFollowRight
		t.store.MarkDirty(left)
		t.store.Unlock(right.ID)
		t.store.Unlock(left.ID)

		left, right = parent, newRight
	}
}

// splitInternal splits an exclusively-locked full internal page and
// places the pending downlink on whichever side its key belongs to.
// The split ratio favors the left side (append workloads split near
// the tail, so the left page stays full). Returns the new right page
// exclusively locked; the original keeps its lock and carries the
// follow-right flag until the caller propagates its downlink.
func (t *Tree) splitInternal(p *base.Page, link base.Downlink) (*base.Page, error) {
	split := int(float64(len(p.Links)) * t.opts.splitRatio)
	if split < 1 {
		split = 1
	}
	if split > len(p.Links)-1 {
		split = len(p.Links) - 1
	}
	splitKey := p.Links[split].Key

	leftLinks := p.Links[:split:split]
	rightLinks := append([]base.Downlink(nil), p.Links[split:]...)
	if link.Key.Less(splitKey) {
		leftLinks = insertLink(leftLinks, link)
	} else {
		rightLinks = insertLink(rightLinks, link)
	}

	right, err := t.store.Allocate(p.Level, splitKey, p.HiKey)
	if err != nil {
		return nil, err
	}
	t.store.Lock(right.ID)

	right.Next = p.Next
	right.Links = rightLinks

	p.HiKey = splitKey
	p.Next = right.ID
	p.Flags |= base.FlagFollowRight
	p.Links = leftLinks

	ps := t.store.PageSize()
	if p.UsedSpace() > ps || right.UsedSpace() > ps {
		t.store.Unlock(right.ID)
		return nil, fmt.Errorf("attr %d: internal split of page %d still overflows: %w",
			t.attr, p.ID, ErrCorrupted)
	}

	t.store.MarkDirty(p)
	t.store.MarkDirty(right)

	t.opts.logger.Info("internal split",
		"attr", t.attr, "left", p.ID, "right", right.ID, "level", p.Level)

	return right, nil
}

// insertLink places a downlink into an ordered slice at its sorted
// position.
func insertLink(links []base.Downlink, link base.Downlink) []base.Downlink {
	i := len(links)
	for j := range links {
		if link.Key.Less(links[j].Key) {
			i = j
			break
		}
	}
	links = append(links, base.Downlink{})
	copy(links[i+1:], links[i:])
	links[i] = link
	return links
}

// newRoot installs a fresh root above a split pair whose left side was
// the old root, consuming both locks. The new root's two downlinks
// partition the full RID space. The root directory flips to the new
// page only after both children are consistent, so a concurrent
// descent through the old pointer still lands on a well-formed tree.
func (t *Tree) newRoot(left, right *base.Page) error {
	root, err := t.store.Allocate(left.Level+1, base.ZeroRID, base.MaxRID)
	if err != nil {
		t.store.Unlock(right.ID)
		t.store.Unlock(left.ID)
		return err
	}
	t.store.Lock(root.ID)

	root.Links = []base.Downlink{
		{Key: left.LoKey, Child: left.ID},
		{Key: right.LoKey, Child: right.ID},
	}

	left.Flags &^= base.FlagFollowRight
	t.store.MarkDirty(left)
	t.store.MarkDirty(root)

	if err := t.store.SetRoot(t.attr, root.ID); err != nil {
		t.store.Unlock(root.ID)
		t.store.Unlock(right.ID)
		t.store.Unlock(left.ID)
		return err
	}

	t.opts.logger.Info("new root",
		"attr", t.attr, "root", root.ID, "level", root.Level)

	t.store.Unlock(root.ID)
	t.store.Unlock(right.ID)
	t.store.Unlock(left.ID)
	return nil
}
