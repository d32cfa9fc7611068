// ABOUTME: Free list for page recycling in the index file
// ABOUTME: In-memory stack of Unused pages rebuilt from the chains on load

package storage

// freeList holds the numbers of Unused pages. Pop returns the most recently
// pushed page; a freshly grown range is pushed so its lowest page pops first.
type freeList struct {
	pages []int32
}

// Total returns the number of pages in the free list
func (fl *freeList) Total() int { return len(fl.pages) }

// Push returns page n to the free list
func (fl *freeList) Push(n int32) {
	fl.pages = append(fl.pages, n)
}

// PushRange adds count consecutive pages starting at first
func (fl *freeList) PushRange(first, count int32) {
	for n := first + count - 1; n >= first; n-- {
		fl.pages = append(fl.pages, n)
	}
}

// Pop removes and returns a free page
func (fl *freeList) Pop() (int32, bool) {
	if len(fl.pages) == 0 {
		return NoPage, false
	}
	n := fl.pages[len(fl.pages)-1]
	fl.pages = fl.pages[:len(fl.pages)-1]
	return n, true
}

// Reset empties the free list
func (fl *freeList) Reset() {
	fl.pages = fl.pages[:0]
}
