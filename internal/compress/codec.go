// Package compress implements the leaf item-batch codec. A batch
// collects consecutive plain items, encodes them into a single opaque
// payload, and decodes back into the same run. The tree treats the
// payload as a black box; only the codec knows the run layout.
package compress

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/s2"

	"zedstore/internal/base"
)

var (
	// ErrNotCompressed is returned when decoding an item that is not a
	// compressed run.
	ErrNotCompressed = errors.New("item is not a compressed run")

	// ErrBatchEmpty is returned by Finish on a batch with no items.
	ErrBatchEmpty = errors.New("compress batch is empty")
)

// Batch accumulates plain items for one compressed run.
type Batch struct {
	capacity int
	raw      []byte
	first    base.RID
	last     base.RID
	n        int
}

// NewBatch starts a batch aiming to produce a compressed item no larger
// than capacityHint bytes. The bound is enforced on the raw run; s2
// output is almost always smaller, and the caller re-checks the
// finished item against page free space anyway.
func NewBatch(capacityHint int) *Batch {
	return &Batch{capacity: capacityHint}
}

// Add appends a plain item to the run. Returns false when the item does
// not fit the batch: either the batch is at capacity, or the item alone
// is too large to ever compress under the hint. The item is not
// consumed on false; the caller flushes and retries or stores it raw.
func (b *Batch) Add(it *base.Item) bool {
	if it.Compressed() {
		return false
	}
	need := it.EncodedSize()
	if base.ItemHeaderSize+need > b.capacity {
		return false // incompressible even on its own
	}
	if len(b.raw)+need > b.capacity {
		return false
	}
	if b.n == 0 {
		b.first = it.First
	}
	b.raw = base.AppendItem(b.raw, it)
	b.last = it.Last
	b.n++
	return true
}

// Len returns the number of items in the batch.
func (b *Batch) Len() int {
	return b.n
}

// Finish encodes the accumulated run into one compressed item and
// resets the batch.
func (b *Batch) Finish() (base.Item, error) {
	if b.n == 0 {
		return base.Item{}, ErrBatchEmpty
	}
	it := base.Item{
		First:   b.first,
		Last:    b.last,
		Flags:   base.ItemCompressed,
		Payload: s2.Encode(nil, b.raw),
	}
	b.raw = nil
	b.n = 0
	return it, nil
}

// RunReader iterates the plain items decoded from a compressed run.
type RunReader struct {
	buf []byte
	off int
}

// Decode opens a reader over a compressed item's run.
func Decode(it *base.Item) (*RunReader, error) {
	if !it.Compressed() {
		return nil, ErrNotCompressed
	}
	raw, err := s2.Decode(nil, it.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode run at %s: %w", it.First, err)
	}
	return &RunReader{buf: raw}, nil
}

// Next returns the next item of the run, or nil when exhausted.
func (r *RunReader) Next() (*base.Item, error) {
	if r.off >= len(r.buf) {
		return nil, nil
	}
	it, next, err := base.DecodeItem(r.buf, r.off)
	if err != nil {
		return nil, err
	}
	r.off = next
	return &it, nil
}
