// Package mvcc holds the row-level visibility bookkeeping stored in
// front of every first-attribute payload, plus the snapshot oracle the
// scan cursor consults. Visibility is a row property, not a column
// property: only attribute 1 carries a row header, and scans of other
// attributes report every row visible.
package mvcc

import (
	"encoding/binary"
	"fmt"

	"zedstore/internal/base"
)

// RowHeaderSize is the encoded row header: xmin(8) + xmax(8) + infomask(2).
const RowHeaderSize = 18

// Infomask bits.
const (
	// HintXminCommitted caches a positive commit check for the
	// inserting transaction, saving the lookup on later scans.
	HintXminCommitted uint16 = 0x0001

	// HintDeleted marks a row whose deleting transaction is known
	// committed.
	HintDeleted uint16 = 0x0002
)

// RowHeader carries the visibility bookkeeping of one row.
type RowHeader struct {
	Xmin     uint64 // inserting transaction, 0 = unset
	Xmax     uint64 // deleting transaction, 0 = live
	Infomask uint16
}

// Encode writes the header into buf, which must hold RowHeaderSize bytes.
func (h *RowHeader) Encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], h.Xmin)
	binary.LittleEndian.PutUint64(buf[8:16], h.Xmax)
	binary.LittleEndian.PutUint16(buf[16:18], h.Infomask)
}

// DecodeRowHeader reads a header from the front of a first-attribute
// payload.
func DecodeRowHeader(buf []byte) (RowHeader, error) {
	if len(buf) < RowHeaderSize {
		return RowHeader{}, fmt.Errorf("payload %d bytes, row header needs %d: %w",
			len(buf), RowHeaderSize, base.ErrCorrupted)
	}
	return RowHeader{
		Xmin:     binary.LittleEndian.Uint64(buf[0:8]),
		Xmax:     binary.LittleEndian.Uint64(buf[8:16]),
		Infomask: binary.LittleEndian.Uint16(buf[16:18]),
	}, nil
}

// Snapshot is the point-in-time view a scan evaluates rows against. A
// transaction is visible when it committed at or before XID and was not
// still in progress when the snapshot was taken.
type Snapshot struct {
	XID        uint64
	InProgress map[uint64]struct{}
}

// SnapshotAt returns a snapshot seeing everything up to and including xid.
func SnapshotAt(xid uint64) *Snapshot {
	return &Snapshot{XID: xid}
}

// Sees reports whether the snapshot considers xid committed.
func (s *Snapshot) Sees(xid uint64) bool {
	if xid == 0 || xid > s.XID {
		return false
	}
	_, inProgress := s.InProgress[xid]
	return !inProgress
}

// Visible is the visibility oracle: it reports whether the row behind
// hdr is live under snap. It may set hint bits on hdr as a cache; the
// caller decides whether the hinted header is written back.
func Visible(hdr *RowHeader, rid base.RID, snap *Snapshot) bool {
	if hdr.Infomask&HintDeleted != 0 {
		return false
	}

	if hdr.Infomask&HintXminCommitted == 0 {
		if !snap.Sees(hdr.Xmin) {
			return false
		}
		hdr.Infomask |= HintXminCommitted
	}

	if hdr.Xmax == 0 {
		return true
	}
	if snap.Sees(hdr.Xmax) {
		hdr.Infomask |= HintDeleted
		return false
	}
	return true
}

// MarkDeleted is the delete mutator: it stamps the row as deleted by
// xid. The tree rewrites the payload and marks the page dirty.
func MarkDeleted(hdr *RowHeader, xid uint64) {
	hdr.Xmax = xid
}
