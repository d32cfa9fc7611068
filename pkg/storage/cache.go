// ABOUTME: Cache of decoded pages and headers for the page manager
// ABOUTME: Bounded page set evicted by access time, access count, then page number

package storage

import (
	"sync"
	"time"

	"github.com/nainya/triestore/internal/metrics"
)

// DefaultCachePageLimit is the page cap used when Options.CachePageLimit is zero.
const DefaultCachePageLimit = 256

type cachedPage struct {
	page       *DataPage
	lastAccess int64 // unix seconds
	accesses   uint64
}

// PageCache caches decoded pages up to a limit and headers without bound.
// One mutex guards all bookkeeping since readers holding the shared index
// lock can fault pages in concurrently.
type PageCache struct {
	mu      sync.Mutex
	limit   int
	pages   map[int32]*cachedPage
	headers map[int32]*PageHeader
	now     func() time.Time
	metrics *metrics.Metrics
}

// NewPageCache creates a cache holding at most limit decoded pages.
func NewPageCache(limit int, m *metrics.Metrics) *PageCache {
	if limit <= 0 {
		limit = DefaultCachePageLimit
	}
	return &PageCache{
		limit:   limit,
		pages:   make(map[int32]*cachedPage),
		headers: make(map[int32]*PageHeader),
		now:     time.Now,
		metrics: m,
	}
}

// GetPage returns a cached page and records the access.
func (c *PageCache) GetPage(number int32) (*DataPage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp, ok := c.pages[number]
	if !ok {
		c.metrics.CacheMiss()
		return nil, false
	}
	cp.lastAccess = c.now().Unix()
	cp.accesses++
	c.metrics.CacheHit()
	return cp.page, true
}

// CachePage inserts or replaces a page, evicting others beyond the limit.
func (c *PageCache) CachePage(p *DataPage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	number := p.Header.Number
	if cp, ok := c.pages[number]; ok {
		cp.page = p
		cp.lastAccess = c.now().Unix()
		cp.accesses++
		return
	}
	c.pages[number] = &cachedPage{page: p, lastAccess: c.now().Unix(), accesses: 1}
	for len(c.pages) > c.limit {
		c.evictOne(number)
	}
}

// evictOne removes the coldest page other than keep.
func (c *PageCache) evictOne(keep int32) {
	victim := NoPage
	var best *cachedPage
	for number, cp := range c.pages {
		if number == keep {
			continue
		}
		if best == nil || colder(number, cp, victim, best) {
			victim, best = number, cp
		}
	}
	if best == nil {
		return
	}
	delete(c.pages, victim)
	c.metrics.CacheEviction()
}

// colder orders pages by last access, then access count, then page number.
func colder(n int32, a *cachedPage, m int32, b *cachedPage) bool {
	if a.lastAccess != b.lastAccess {
		return a.lastAccess < b.lastAccess
	}
	if a.accesses != b.accesses {
		return a.accesses < b.accesses
	}
	return n < m
}

// PageCount returns the number of cached pages.
func (c *PageCache) PageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pages)
}

// GetHeader returns a cached header.
func (c *PageCache) GetHeader(number int32) (*PageHeader, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.headers[number]
	return h, ok
}

// CacheHeader inserts or replaces a header.
func (c *PageCache) CacheHeader(h *PageHeader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers[h.Number] = h
}

// PurgePages drops the given pages.
func (c *PageCache) PurgePages(numbers ...int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range numbers {
		delete(c.pages, n)
	}
}

// PurgeHeaders drops the given headers.
func (c *PageCache) PurgeHeaders(numbers ...int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range numbers {
		delete(c.headers, n)
	}
}
