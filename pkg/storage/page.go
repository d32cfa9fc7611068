// ABOUTME: Fixed-size data pages with typed headers and id-ordered entries
// ABOUTME: Encodes and decodes the on-disk page layout

package storage

import (
	"encoding/binary"
	"fmt"
)

const (
	// DefaultPageSize is the page size used when Options.PageSize is zero.
	DefaultPageSize = 4096

	// PageHeaderSize is the encoded size of a page header.
	// Layout: Type(1) + Prev(4) + Next(4) + EntryCount(2) + FirstEntry(4) + LastEntry(4) + Size(2)
	PageHeaderSize = 21

	// MinPageSize is the smallest page size accepted by the page manager.
	MinPageSize = 128

	// MaxPageSize is bounded by the 2-byte size field of the page header.
	MaxPageSize = 65535

	// NoPage marks an absent prev/next link.
	NoPage int32 = -1
)

// PageType identifies which record set a page belongs to.
type PageType uint8

const (
	PageUnused PageType = iota
	PageItems
	PageIndexNode
	PageItemNodeIndex
)

// liveTypes are the page types that form chains.
var liveTypes = [...]PageType{PageItems, PageIndexNode, PageItemNodeIndex}

func (t PageType) String() string {
	switch t {
	case PageUnused:
		return "Unused"
	case PageItems:
		return "Items"
	case PageIndexNode:
		return "IndexNode"
	case PageItemNodeIndex:
		return "ItemNodeIndex"
	default:
		return fmt.Sprintf("PageType(%d)", uint8(t))
	}
}

func (t PageType) live() bool {
	return t >= PageItems && t <= PageItemNodeIndex
}

// PageHeader is the decoded header of one page. The page manager keeps exactly
// one PageHeader per live page; collections, caches and DataPages share it.
type PageHeader struct {
	Number     int32
	Type       PageType
	Prev       int32
	Next       int32
	EntryCount uint16
	FirstEntry uint32
	LastEntry  uint32
	Size       uint16
}

func newPageHeader(number int32, t PageType) *PageHeader {
	return &PageHeader{
		Number: number,
		Type:   t,
		Prev:   NoPage,
		Next:   NoPage,
		Size:   PageHeaderSize,
	}
}

// Contains reports whether id lies within the page's entry range.
func (h *PageHeader) Contains(id uint32) bool {
	return h.EntryCount > 0 && h.FirstEntry <= id && id <= h.LastEntry
}

func (h *PageHeader) encode(buf []byte) {
	buf[0] = byte(h.Type)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(h.Prev))
	binary.LittleEndian.PutUint32(buf[5:9], uint32(h.Next))
	binary.LittleEndian.PutUint16(buf[9:11], h.EntryCount)
	binary.LittleEndian.PutUint32(buf[11:15], h.FirstEntry)
	binary.LittleEndian.PutUint32(buf[15:19], h.LastEntry)
	binary.LittleEndian.PutUint16(buf[19:21], h.Size)
}

func decodePageHeader(number int32, buf []byte) *PageHeader {
	return &PageHeader{
		Number:     number,
		Type:       PageType(buf[0]),
		Prev:       int32(binary.LittleEndian.Uint32(buf[1:5])),
		Next:       int32(binary.LittleEndian.Uint32(buf[5:9])),
		EntryCount: binary.LittleEndian.Uint16(buf[9:11]),
		FirstEntry: binary.LittleEndian.Uint32(buf[11:15]),
		LastEntry:  binary.LittleEndian.Uint32(buf[15:19]),
		Size:       binary.LittleEndian.Uint16(buf[19:21]),
	}
}

// unusedHeaderBytes returns the encoded header of a page on the free list.
func unusedHeaderBytes() []byte {
	buf := make([]byte, PageHeaderSize)
	newPageHeader(0, PageUnused).encode(buf)
	return buf
}

// DataPage is one decoded page: its shared header plus entries in id order.
type DataPage struct {
	Header  *PageHeader
	Entries []Entry
}

// Fits reports whether e can be added without exceeding pageSize.
func (p *DataPage) Fits(e Entry, pageSize int) bool {
	return int(p.Header.Size)+e.Size() <= pageSize
}

// insertIndex returns the position a new entry with id would take: after every
// entry with an id less than or equal to it.
func (p *DataPage) insertIndex(id uint32) int {
	lo, hi := 0, len(p.Entries)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if p.Entries[mid].EntryID() <= id {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// firstIndex returns the position of the first entry with an id >= id.
func (p *DataPage) firstIndex(id uint32) int {
	lo, hi := 0, len(p.Entries)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if p.Entries[mid].EntryID() < id {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Insert adds e in id order and refreshes the header.
func (p *DataPage) Insert(e Entry) {
	i := p.insertIndex(e.EntryID())
	p.Entries = append(p.Entries, nil)
	copy(p.Entries[i+1:], p.Entries[i:])
	p.Entries[i] = e
	p.refresh()
}

// RemoveWhere deletes entries with the given id matching fn and returns how
// many were removed.
func (p *DataPage) RemoveWhere(id uint32, fn func(Entry) bool) int {
	start := p.firstIndex(id)
	removed := 0
	kept := p.Entries[:start]
	for i := start; i < len(p.Entries); i++ {
		e := p.Entries[i]
		if e.EntryID() == id && fn(e) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	if removed > 0 {
		for i := len(kept); i < len(p.Entries); i++ {
			p.Entries[i] = nil
		}
		p.Entries = kept
		p.refresh()
	}
	return removed
}

// EntriesFor returns the entries carrying id.
func (p *DataPage) EntriesFor(id uint32) []Entry {
	var out []Entry
	for i := p.firstIndex(id); i < len(p.Entries) && p.Entries[i].EntryID() == id; i++ {
		out = append(out, p.Entries[i])
	}
	return out
}

// refresh recomputes the header counters from the entries.
func (p *DataPage) refresh() {
	h := p.Header
	h.EntryCount = uint16(len(p.Entries))
	size := PageHeaderSize
	for _, e := range p.Entries {
		size += e.Size()
	}
	h.Size = uint16(size)
	if len(p.Entries) == 0 {
		h.FirstEntry, h.LastEntry = 0, 0
		return
	}
	h.FirstEntry = p.Entries[0].EntryID()
	h.LastEntry = p.Entries[len(p.Entries)-1].EntryID()
}

// encode writes the full page image into buf (len(buf) == page size).
func (p *DataPage) encode(buf []byte) {
	clear(buf)
	p.Header.encode(buf)
	off := PageHeaderSize
	for _, e := range p.Entries {
		off += e.put(buf[off:])
	}
}

// decodeDataPage decodes the entries of a page whose canonical header is h.
func decodeDataPage(h *PageHeader, buf []byte, keyLen func([]byte) (int, error)) (*DataPage, error) {
	raw := decodePageHeader(h.Number, buf)
	if raw.Type == PageUnused {
		return nil, &CorruptionError{Page: h.Number, Reason: "reading an unused page as data"}
	}
	if raw.Type != h.Type {
		return nil, &CorruptionError{Page: h.Number, Reason: fmt.Sprintf("page type %s, expected %s", raw.Type, h.Type)}
	}
	if int(raw.Size) > len(buf) {
		return nil, &CorruptionError{Page: h.Number, Reason: "byte size exceeds page size"}
	}
	if raw.EntryCount != h.EntryCount || raw.Size != h.Size {
		return nil, fmt.Errorf("%w: page %d body is stale (%d entries on file, %d in header)",
			ErrStalePage, h.Number, raw.EntryCount, h.EntryCount)
	}

	page := &DataPage{Header: h, Entries: make([]Entry, 0, raw.EntryCount)}
	data := buf[:raw.Size]
	off := PageHeaderSize
	for i := 0; i < int(raw.EntryCount); i++ {
		e, n, err := decodeEntry(h.Type, data[off:], keyLen)
		if err != nil {
			return nil, &CorruptionError{Page: h.Number, Reason: fmt.Sprintf("entry %d: %v", i, err)}
		}
		page.Entries = append(page.Entries, e)
		off += n
	}
	return page, nil
}
