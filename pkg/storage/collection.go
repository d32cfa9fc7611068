// ABOUTME: Ordered id-range index over one page type's chain
// ABOUTME: Binary search for pages holding an id or best suited to receive it

package storage

import "sync/atomic"

// DataPageCollection holds the headers of one page chain in logical order.
// Entry ranges are non-decreasing along the chain; neighbouring pages may share
// a boundary id when many entries carry the same id.
type DataPageCollection struct {
	pages []*PageHeader

	// lastIndex caches the result of the previous search. Readers holding only
	// the shared lock may search concurrently.
	lastIndex atomic.Int32
}

// NewDataPageCollection creates an empty collection.
func NewDataPageCollection() *DataPageCollection {
	return &DataPageCollection{}
}

// Len returns the number of pages in the chain.
func (c *DataPageCollection) Len() int { return len(c.pages) }

// Pages returns the headers in chain order. The slice must not be modified.
func (c *DataPageCollection) Pages() []*PageHeader { return c.pages }

// First returns the first page of the chain, or nil.
func (c *DataPageCollection) First() *PageHeader {
	if len(c.pages) == 0 {
		return nil
	}
	return c.pages[0]
}

// Last returns the last page of the chain, or nil.
func (c *DataPageCollection) Last() *PageHeader {
	if len(c.pages) == 0 {
		return nil
	}
	return c.pages[len(c.pages)-1]
}

// InsertFirst adds h at the start of the chain.
func (c *DataPageCollection) InsertFirst(h *PageHeader) {
	c.insertAt(0, h)
}

// InsertLast adds h at the end of the chain.
func (c *DataPageCollection) InsertLast(h *PageHeader) {
	c.insertAt(len(c.pages), h)
}

// InsertAfter adds h directly after prev. A prev not in the collection
// appends h.
func (c *DataPageCollection) InsertAfter(h, prev *PageHeader) {
	i := c.indexOf(prev)
	if i < 0 {
		c.InsertLast(h)
		return
	}
	c.insertAt(i+1, h)
}

// Remove drops h from the chain.
func (c *DataPageCollection) Remove(h *PageHeader) {
	i := c.indexOf(h)
	if i < 0 {
		return
	}
	copy(c.pages[i:], c.pages[i+1:])
	c.pages[len(c.pages)-1] = nil
	c.pages = c.pages[:len(c.pages)-1]
	c.lastIndex.Store(0)
}

func (c *DataPageCollection) insertAt(i int, h *PageHeader) {
	c.pages = append(c.pages, nil)
	copy(c.pages[i+1:], c.pages[i:])
	c.pages[i] = h
	c.lastIndex.Store(0)
}

func (c *DataPageCollection) indexOf(h *PageHeader) int {
	if h == nil {
		return -1
	}
	if i := int(c.lastIndex.Load()); i < len(c.pages) && c.pages[i] == h {
		return i
	}
	for i, p := range c.pages {
		if p == h {
			return i
		}
	}
	return -1
}

// lowerBound returns the index of the first page whose last entry is >= id,
// or len(pages) when every page ends below id. Empty pages count as ending at
// their predecessor's last id.
func (c *DataPageCollection) lowerBound(id uint32) int {
	n := len(c.pages)
	if n == 0 {
		return 0
	}

	// Repeated lookups tend to hit the same page.
	if i := int(c.lastIndex.Load()); i < n && c.boundaryHolds(i, id) {
		return i
	}

	lo, hi := 0, n
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if c.pages[mid].EntryCount > 0 && c.pages[mid].LastEntry < id {
			lo = mid + 1
		} else {
			hi = mid
		}
	}

	// Correction walk: the probe above treats empty pages as matches, so step
	// back over them and over neighbours that still reach id.
	for lo > 0 {
		prev := c.pages[lo-1]
		if prev.EntryCount == 0 || prev.LastEntry >= id {
			lo--
			continue
		}
		break
	}

	c.lastIndex.Store(int32(min(lo, n-1)))
	return lo
}

// boundaryHolds reports whether i is the lower bound for id.
func (c *DataPageCollection) boundaryHolds(i int, id uint32) bool {
	p := c.pages[i]
	if p.EntryCount == 0 || p.LastEntry < id {
		return false
	}
	if i == 0 {
		return true
	}
	prev := c.pages[i-1]
	return prev.EntryCount > 0 && prev.LastEntry < id
}

// FindPagesForEntry returns every page whose [first,last] range contains id,
// in chain order.
func (c *DataPageCollection) FindPagesForEntry(id uint32) []*PageHeader {
	var out []*PageHeader
	for i := c.lowerBound(id); i < len(c.pages); i++ {
		p := c.pages[i]
		if p.EntryCount == 0 {
			continue
		}
		if p.FirstEntry > id {
			break
		}
		if p.Contains(id) {
			out = append(out, p)
		}
	}
	return out
}

// FindClosestPageForEntry returns the page a new entry with id should be
// inserted into: the first page reaching id, or the last page when id is
// beyond every range. Returns nil for an empty collection.
func (c *DataPageCollection) FindClosestPageForEntry(id uint32) *PageHeader {
	n := len(c.pages)
	if n == 0 {
		return nil
	}
	i := c.lowerBound(id)
	if i >= n {
		return c.pages[n-1]
	}
	return c.pages[i]
}
