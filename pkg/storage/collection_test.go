// ABOUTME: Tests for the data page collection
// ABOUTME: Verifies range lookups over overlapping and gapped page ranges

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func rangeHeader(n int32, first, last uint32) *PageHeader {
	h := newPageHeader(n, PageIndexNode)
	h.FirstEntry, h.LastEntry, h.EntryCount = first, last, 1
	return h
}

func TestCollectionLookups(t *testing.T) {
	c := NewDataPageCollection()
	a := rangeHeader(0, 1, 5)
	b := rangeHeader(1, 5, 5)
	d := rangeHeader(2, 12, 20)
	cc := rangeHeader(3, 5, 9)
	c.InsertFirst(a)
	c.InsertLast(d)
	c.InsertAfter(b, a)
	c.InsertAfter(cc, b)

	assert.Equal(t, []*PageHeader{a, b, cc, d}, c.Pages())

	// Run twice so the second pass starts from cached search positions
	for pass := 0; pass < 2; pass++ {
		assert.Equal(t, []*PageHeader{a, b, cc}, c.FindPagesForEntry(5))
		assert.Equal(t, []*PageHeader{a}, c.FindPagesForEntry(1))
		assert.Equal(t, []*PageHeader{cc}, c.FindPagesForEntry(7))
		assert.Equal(t, []*PageHeader{d}, c.FindPagesForEntry(20))
		assert.Empty(t, c.FindPagesForEntry(0))
		assert.Empty(t, c.FindPagesForEntry(10))
		assert.Empty(t, c.FindPagesForEntry(21))

		assert.Same(t, a, c.FindClosestPageForEntry(0))
		assert.Same(t, a, c.FindClosestPageForEntry(5))
		assert.Same(t, cc, c.FindClosestPageForEntry(7))
		assert.Same(t, d, c.FindClosestPageForEntry(10))
		assert.Same(t, d, c.FindClosestPageForEntry(99))
	}
}

func TestCollectionRemove(t *testing.T) {
	c := NewDataPageCollection()
	a := rangeHeader(0, 1, 3)
	b := rangeHeader(1, 4, 6)
	c.InsertLast(a)
	c.InsertLast(b)

	assert.Same(t, b, c.FindClosestPageForEntry(5))
	c.Remove(b)
	assert.Equal(t, 1, c.Len())
	assert.Same(t, a, c.Last())
	assert.Same(t, a, c.FindClosestPageForEntry(5))
	assert.Empty(t, c.FindPagesForEntry(5))

	// Removing a header that is not in the chain is a no-op
	c.Remove(b)
	assert.Equal(t, 1, c.Len())
}

func TestEmptyCollection(t *testing.T) {
	c := NewDataPageCollection()
	assert.Nil(t, c.First())
	assert.Nil(t, c.Last())
	assert.Nil(t, c.FindClosestPageForEntry(1))
	assert.Empty(t, c.FindPagesForEntry(1))
}

func TestCollectionEmptySolePage(t *testing.T) {
	c := NewDataPageCollection()
	h := newPageHeader(0, PageItems)
	c.InsertFirst(h)

	assert.Same(t, h, c.FindClosestPageForEntry(42))
	assert.Empty(t, c.FindPagesForEntry(0))
}
