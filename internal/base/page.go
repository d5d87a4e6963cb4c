package base

import (
	"encoding/binary"
	"fmt"
)

const (
	// DefaultPageSize is the page capacity used unless the store is
	// opened with a different one. The size is a store-wide constant:
	// every page in a store has the same capacity.
	DefaultPageSize = 8192

	// MinPageSize leaves room for the header plus a handful of small
	// items. Tests shrink pages to force early splits.
	MinPageSize = 128

	// PageHeaderSize is the fixed header at the start of every
	// serialized page:
	// next(8) + lokey(6) + hikey(6) + level(2) + flags(2) + nitems(2) +
	// pageTag(2) + reserved(4).
	PageHeaderSize = 32

	// DownlinkSize is the on-page size of one internal entry:
	// key(6) + pad(2) + child(8).
	DownlinkSize = 16

	// PageTag identifies a serialized btree page ("zb").
	PageTag uint16 = 0x7A62
)

// Page flags.
const (
	// FlagFollowRight marks a page whose right sibling holds keys below
	// this page's high key but has not yet been linked into the parent.
	// Any traversal that lands here looking for such a key must follow
	// the sibling pointer instead of failing.
	FlagFollowRight uint16 = 0x0001
)

// PageID addresses a page in the store. Zero is invalid; page 0 holds
// store metadata and is never a tree page.
type PageID uint64

// InvalidPageID is the nil page pointer.
const InvalidPageID PageID = 0

// Downlink is one internal-page entry routing descent into the subtree
// rooted at Child. Key is the low key of that subtree.
type Downlink struct {
	Key   RID
	Child PageID
}

// Page is the decoded form of one tree page. The tree operates on
// decoded pages and rewrites them wholesale; the store serializes a
// full replacement image on write and never patches a page in place.
//
// Level 0 pages carry Items; higher levels carry Links.
type Page struct {
	ID    PageID
	Next  PageID // right sibling, InvalidPageID at the rightmost page
	LoKey RID    // inclusive lower bound of keys reachable through this page
	HiKey RID    // exclusive upper bound
	Level uint16
	Flags uint16

	Items []Item     // leaf pages only
	Links []Downlink // internal pages only
}

// IsLeaf reports whether the page is at level 0.
func (p *Page) IsLeaf() bool {
	return p.Level == 0
}

// FollowRight reports whether the page has an unfinished split.
func (p *Page) FollowRight() bool {
	return p.Flags&FlagFollowRight != 0
}

// UsedSpace returns the number of bytes the serialized page occupies.
func (p *Page) UsedSpace() int {
	used := PageHeaderSize
	if p.IsLeaf() {
		for i := range p.Items {
			used += p.Items[i].EncodedSize()
		}
	} else {
		used += len(p.Links) * DownlinkSize
	}
	return used
}

// FreeSpace returns the bytes still available on a page of the given
// capacity.
func (p *Page) FreeSpace(pageSize int) int {
	return pageSize - p.UsedSpace()
}

// FitsDownlink reports whether one more internal entry fits.
func (p *Page) FitsDownlink(pageSize int) bool {
	return p.FreeSpace(pageSize) >= DownlinkSize
}

// LastItem returns the last leaf item, or nil for an empty leaf.
func (p *Page) LastItem() *Item {
	if len(p.Items) == 0 {
		return nil
	}
	return &p.Items[len(p.Items)-1]
}

// Serialize encodes the page into a fresh image of pageSize bytes.
// Returns ErrPageOverflow when the content does not fit; the caller is
// expected to have split before reaching that point.
func (p *Page) Serialize(pageSize int) ([]byte, error) {
	if p.UsedSpace() > pageSize {
		return nil, fmt.Errorf("page %d: %w", p.ID, ErrPageOverflow)
	}
	// The header's item count is 16 bits.
	if len(p.Items) > 0xFFFF || len(p.Links) > 0xFFFF {
		return nil, fmt.Errorf("page %d: %d entries: %w",
			p.ID, len(p.Items)+len(p.Links), ErrPageOverflow)
	}

	buf := make([]byte, 0, pageSize)
	var hdr [PageHeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(p.Next))
	PutRID(hdr[8:14], p.LoKey)
	PutRID(hdr[14:20], p.HiKey)
	binary.LittleEndian.PutUint16(hdr[20:22], p.Level)
	binary.LittleEndian.PutUint16(hdr[22:24], p.Flags)
	if p.IsLeaf() {
		binary.LittleEndian.PutUint16(hdr[24:26], uint16(len(p.Items)))
	} else {
		binary.LittleEndian.PutUint16(hdr[24:26], uint16(len(p.Links)))
	}
	binary.LittleEndian.PutUint16(hdr[26:28], PageTag)
	buf = append(buf, hdr[:]...)

	if p.IsLeaf() {
		for i := range p.Items {
			buf = AppendItem(buf, &p.Items[i])
		}
	} else {
		var entry [DownlinkSize]byte
		for i := range p.Links {
			PutRID(entry[0:6], p.Links[i].Key)
			entry[6], entry[7] = 0, 0
			binary.LittleEndian.PutUint64(entry[8:16], uint64(p.Links[i].Child))
			buf = append(buf, entry[:]...)
		}
	}

	// Pad out to the full page image.
	image := make([]byte, pageSize)
	copy(image, buf)
	return image, nil
}

// DeserializePage decodes a page image into a fresh Page.
func DeserializePage(id PageID, image []byte) (*Page, error) {
	if len(image) < PageHeaderSize {
		return nil, fmt.Errorf("page %d image too small: %w", id, ErrInvalidPageSize)
	}
	if tag := binary.LittleEndian.Uint16(image[26:28]); tag != PageTag {
		return nil, fmt.Errorf("page %d tag %#x: %w", id, tag, ErrInvalidMagic)
	}

	p := &Page{
		ID:    id,
		Next:  PageID(binary.LittleEndian.Uint64(image[0:8])),
		LoKey: GetRID(image[8:14]),
		HiKey: GetRID(image[14:20]),
		Level: binary.LittleEndian.Uint16(image[20:22]),
		Flags: binary.LittleEndian.Uint16(image[22:24]),
	}
	n := int(binary.LittleEndian.Uint16(image[24:26]))

	if p.IsLeaf() {
		p.Items = make([]Item, 0, n)
		off := PageHeaderSize
		for i := 0; i < n; i++ {
			it, next, err := DecodeItem(image, off)
			if err != nil {
				return nil, fmt.Errorf("page %d item %d: %w", id, i, err)
			}
			p.Items = append(p.Items, it)
			off = next
		}
	} else {
		p.Links = make([]Downlink, 0, n)
		off := PageHeaderSize
		for i := 0; i < n; i++ {
			if off+DownlinkSize > len(image) {
				return nil, fmt.Errorf("page %d downlink %d: %w", id, i, ErrInvalidOffset)
			}
			p.Links = append(p.Links, Downlink{
				Key:   GetRID(image[off : off+6]),
				Child: PageID(binary.LittleEndian.Uint64(image[off+8 : off+16])),
			})
			off += DownlinkSize
		}
	}

	return p, nil
}
