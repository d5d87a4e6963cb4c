package base

import (
	"encoding/binary"
	"fmt"
)

// RIDSize is the encoded size of a row identifier: block(4) + offset(2).
const RIDSize = 6

// RID identifies a logical row position: a (block, offset) pair with
// total order. Offset 0 is invalid; the first row of a block is offset 1.
type RID struct {
	Block uint32
	Off   uint16
}

var (
	// ZeroRID is the smallest valid RID, the low key of the first leaf.
	ZeroRID = RID{Block: 0, Off: 1}

	// MaxRID is the largest representable RID. It is the high key of the
	// rightmost page at every level.
	MaxRID = RID{Block: 0xFFFFFFFF, Off: 0xFFFF}

	// RightmostRID is the search key used to descend to the rightmost
	// leaf. It is one below MaxRID so it always compares strictly below
	// the rightmost high key.
	RightmostRID = RID{Block: 0xFFFFFFFF, Off: 0xFFFE}
)

// Valid reports whether the RID has a non-zero offset.
func (r RID) Valid() bool {
	return r.Off != 0
}

// Compare returns -1, 0, or 1 ordering r against other.
func (r RID) Compare(other RID) int {
	if r.Block != other.Block {
		if r.Block < other.Block {
			return -1
		}
		return 1
	}
	if r.Off != other.Off {
		if r.Off < other.Off {
			return -1
		}
		return 1
	}
	return 0
}

// Less reports whether r orders strictly before other.
func (r RID) Less(other RID) bool {
	return r.Compare(other) < 0
}

// Next returns the RID immediately after r. The offset wraps into the
// next block before reaching the invalid offset 0.
func (r RID) Next() RID {
	if r.Off == 0xFFFF {
		return RID{Block: r.Block + 1, Off: 1}
	}
	return RID{Block: r.Block, Off: r.Off + 1}
}

func (r RID) String() string {
	return fmt.Sprintf("(%d,%d)", r.Block, r.Off)
}

// AppendRID appends the 6-byte encoding of r to buf.
func AppendRID(buf []byte, r RID) []byte {
	var b [RIDSize]byte
	binary.LittleEndian.PutUint32(b[0:4], r.Block)
	binary.LittleEndian.PutUint16(b[4:6], r.Off)
	return append(buf, b[:]...)
}

// PutRID writes the 6-byte encoding of r at the start of buf.
func PutRID(buf []byte, r RID) {
	binary.LittleEndian.PutUint32(buf[0:4], r.Block)
	binary.LittleEndian.PutUint16(buf[4:6], r.Off)
}

// GetRID decodes a RID from the start of buf.
func GetRID(buf []byte) RID {
	return RID{
		Block: binary.LittleEndian.Uint32(buf[0:4]),
		Off:   binary.LittleEndian.Uint16(buf[4:6]),
	}
}
