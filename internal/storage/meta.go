package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"zedstore/internal/base"
)

const (
	// MagicNumber identifies a store file ("ZEDS").
	MagicNumber uint32 = 0x5A454453

	// FormatVersion of the page file layout.
	FormatVersion uint16 = 1

	// metaFixedSize is the fixed prefix of the meta page:
	// magic(4) + version(2) + pageSize(4) + nextPageID(8) + flushSeq(8) +
	// nroots(2). Each root entry is attr(2) + pageID(8); an xxhash
	// checksum(8) trails the encoded content.
	metaFixedSize = 4 + 2 + 4 + 8 + 8 + 2

	rootEntrySize = 2 + 8
	checksumSize  = 8
)

// meta is the store metadata persisted on page 0. It carries the page
// allocator watermark and the per-attribute root directory; the two are
// committed in the same image, which keeps root registration consistent
// with page allocation.
type meta struct {
	pageSize   int
	nextPageID base.PageID
	flushSeq   uint64
	roots      map[uint16]base.PageID
}

// encode serializes the meta into a full page image.
func (m *meta) encode() ([]byte, error) {
	need := metaFixedSize + len(m.roots)*rootEntrySize + checksumSize
	if need > m.pageSize {
		return nil, fmt.Errorf("meta page: %d attribute roots: %w", len(m.roots), base.ErrPageOverflow)
	}

	buf := make([]byte, 0, need)
	var fixed [metaFixedSize]byte
	binary.LittleEndian.PutUint32(fixed[0:4], MagicNumber)
	binary.LittleEndian.PutUint16(fixed[4:6], FormatVersion)
	binary.LittleEndian.PutUint32(fixed[6:10], uint32(m.pageSize))
	binary.LittleEndian.PutUint64(fixed[10:18], uint64(m.nextPageID))
	binary.LittleEndian.PutUint64(fixed[18:26], m.flushSeq)
	binary.LittleEndian.PutUint16(fixed[26:28], uint16(len(m.roots)))
	buf = append(buf, fixed[:]...)

	// Sorted attribute order keeps the image deterministic.
	attrs := make([]uint16, 0, len(m.roots))
	for attr := range m.roots {
		attrs = append(attrs, attr)
	}
	for i := 1; i < len(attrs); i++ {
		for j := i; j > 0 && attrs[j] < attrs[j-1]; j-- {
			attrs[j], attrs[j-1] = attrs[j-1], attrs[j]
		}
	}
	var entry [rootEntrySize]byte
	for _, attr := range attrs {
		binary.LittleEndian.PutUint16(entry[0:2], attr)
		binary.LittleEndian.PutUint64(entry[2:10], uint64(m.roots[attr]))
		buf = append(buf, entry[:]...)
	}

	var sum [checksumSize]byte
	binary.LittleEndian.PutUint64(sum[:], xxhash.Sum64(buf))
	buf = append(buf, sum[:]...)

	image := make([]byte, m.pageSize)
	copy(image, buf)
	return image, nil
}

// decodeMeta validates and decodes a meta page image.
func decodeMeta(image []byte) (*meta, error) {
	if len(image) < metaFixedSize+checksumSize {
		return nil, base.ErrInvalidPageSize
	}
	if binary.LittleEndian.Uint32(image[0:4]) != MagicNumber {
		return nil, base.ErrInvalidMagic
	}
	if binary.LittleEndian.Uint16(image[4:6]) != FormatVersion {
		return nil, base.ErrInvalidVersion
	}

	m := &meta{
		pageSize:   int(binary.LittleEndian.Uint32(image[6:10])),
		nextPageID: base.PageID(binary.LittleEndian.Uint64(image[10:18])),
		flushSeq:   binary.LittleEndian.Uint64(image[18:26]),
		roots:      make(map[uint16]base.PageID),
	}
	nroots := int(binary.LittleEndian.Uint16(image[26:28]))

	end := metaFixedSize + nroots*rootEntrySize
	if end+checksumSize > len(image) {
		return nil, base.ErrInvalidOffset
	}
	want := binary.LittleEndian.Uint64(image[end : end+checksumSize])
	if got := xxhash.Sum64(image[:end]); got != want {
		return nil, base.ErrInvalidChecksum
	}

	off := metaFixedSize
	for i := 0; i < nroots; i++ {
		attr := binary.LittleEndian.Uint16(image[off : off+2])
		m.roots[attr] = base.PageID(binary.LittleEndian.Uint64(image[off+2 : off+10]))
		off += rootEntrySize
	}
	return m, nil
}
