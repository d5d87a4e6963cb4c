package base

import (
	"encoding/binary"
	"fmt"
)

// Item flags.
const (
	// ItemCompressed marks an item whose payload is an encoded run of
	// plain items covering [First, Last].
	ItemCompressed uint16 = 0x0001
)

// ItemHeaderSize is the fixed per-item overhead on a leaf page:
// first(6) + last(6) + flags(2) + payloadLen(4).
const ItemHeaderSize = RIDSize + RIDSize + 2 + 4

// Item is one leaf entry. A plain item carries a single row's payload
// and Last equals First. A compressed item carries an opaque encoded
// run spanning [First, Last].
//
// For the first attribute of a table the plain payload begins with the
// row header that carries visibility bookkeeping; the column value
// follows it.
type Item struct {
	First   RID
	Last    RID
	Flags   uint16
	Payload []byte
}

// Compressed reports whether the item is a compressed run.
func (it *Item) Compressed() bool {
	return it.Flags&ItemCompressed != 0
}

// Covers reports whether rid falls inside the item's RID span.
func (it *Item) Covers(rid RID) bool {
	return it.First.Compare(rid) <= 0 && rid.Compare(it.Last) <= 0
}

// EncodedSize returns the on-page size of the item.
func (it *Item) EncodedSize() int {
	return ItemHeaderSize + len(it.Payload)
}

// AppendItem appends the wire encoding of it to buf.
func AppendItem(buf []byte, it *Item) []byte {
	buf = AppendRID(buf, it.First)
	buf = AppendRID(buf, it.Last)
	var tail [6]byte
	binary.LittleEndian.PutUint16(tail[0:2], it.Flags)
	binary.LittleEndian.PutUint32(tail[2:6], uint32(len(it.Payload)))
	buf = append(buf, tail[:]...)
	return append(buf, it.Payload...)
}

// DecodeItem decodes one item starting at buf[off]. It returns the item
// and the offset just past it. The payload is copied out of buf.
func DecodeItem(buf []byte, off int) (Item, int, error) {
	if off+ItemHeaderSize > len(buf) {
		return Item{}, 0, fmt.Errorf("item header at %d: %w", off, ErrInvalidOffset)
	}
	var it Item
	it.First = GetRID(buf[off:])
	it.Last = GetRID(buf[off+RIDSize:])
	it.Flags = binary.LittleEndian.Uint16(buf[off+2*RIDSize:])
	plen := int(binary.LittleEndian.Uint32(buf[off+2*RIDSize+2:]))
	off += ItemHeaderSize
	if off+plen > len(buf) {
		return Item{}, 0, fmt.Errorf("item payload at %d len %d: %w", off, plen, ErrInvalidOffset)
	}
	it.Payload = make([]byte, plen)
	copy(it.Payload, buf[off:off+plen])
	return it, off + plen, nil
}

// PlainItem builds an uncompressed single-row item.
func PlainItem(rid RID, payload []byte) Item {
	return Item{First: rid, Last: rid, Payload: payload}
}
