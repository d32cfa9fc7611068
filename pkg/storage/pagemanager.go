// ABOUTME: Page manager owning the index file, its free list and the page chains
// ABOUTME: Allocates, links, invalidates and persists pages and the id counters

package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/nainya/triestore/internal/logger"
	"github.com/nainya/triestore/internal/metrics"
	"github.com/nainya/triestore/pkg/wal"
	"github.com/rs/zerolog"
)

const (
	fileMagic     = "TRIEIX"
	formatVersion = 1

	// fileHeaderSize covers the magic and the format version
	fileHeaderSize = 8

	// managerHeaderSize covers 3 chain heads, total pages, next item id and
	// next node id
	managerHeaderSize = 24

	// DefaultGrowPageCount is used when Options.GrowPageCount is zero
	DefaultGrowPageCount = 16

	// LogSuffix is appended to the index path to name its transaction log
	LogSuffix = ".txlog"
)

// Options configures a PageManager
type Options struct {
	PageSize       int  // bytes per page (default: 4096)
	GrowPageCount  int  // pages added each time the file grows, at least 2
	CachePageLimit int  // decoded pages kept in memory
	Buffered       bool // defer writes until Flush and protect them with the transaction log

	// KeyLength reports the encoded length of the key at the start of a
	// slice. Required to read Items pages.
	KeyLength func([]byte) (int, error)

	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// DefaultOptions returns the default PageManager options
func DefaultOptions() Options {
	return Options{
		PageSize:       DefaultPageSize,
		GrowPageCount:  DefaultGrowPageCount,
		CachePageLimit: DefaultCachePageLimit,
	}
}

// PageManager owns one index file: the free list, the three page chains,
// the page cache and the item/node id counters.
type PageManager struct {
	path     string
	file     *os.File
	opts     Options
	pageSize int

	log     zerolog.Logger
	metrics *metrics.Metrics
	cache   *PageCache
	writer  pageWriter
	txlog   *wal.Log

	// chains is indexed by PageType-1
	chains [len(liveTypes)]*DataPageCollection

	free       freeList
	totalPages int32
	nextItemID uint32
	nextNodeID uint32

	rollback    *wal.RollbackResult
	initialized bool
	closed      bool
}

// NewPageManager creates a page manager for path. Call Initialize before use.
func NewPageManager(path string, opts Options) *PageManager {
	if opts.PageSize == 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.GrowPageCount == 0 {
		opts.GrowPageCount = DefaultGrowPageCount
	}
	if opts.KeyLength == nil {
		opts.KeyLength = func([]byte) (int, error) {
			return 0, errors.New("no key serializer configured")
		}
	}

	pm := &PageManager{
		path:     path,
		opts:     opts,
		pageSize: opts.PageSize,
		log:      opts.Logger.StorageLogger().With().Str("path", path).Logger(),
		metrics:  opts.Metrics,
		cache:    NewPageCache(opts.CachePageLimit, opts.Metrics),
	}
	for i := range pm.chains {
		pm.chains[i] = NewDataPageCollection()
	}
	return pm
}

// Initialize opens the file. A new file gets one page per chain; an existing
// file is rolled back if a batch was interrupted and then validated.
func (pm *PageManager) Initialize() error {
	if pm.closed {
		return ErrClosed
	}
	if pm.initialized {
		return ErrAlreadyInitialized
	}
	if pm.pageSize < MinPageSize || pm.pageSize > MaxPageSize {
		return fmt.Errorf("%w: %d", ErrInvalidPageSize, pm.pageSize)
	}
	if pm.opts.GrowPageCount < 2 {
		return fmt.Errorf("%w: grow page count %d", ErrInvalidArgument, pm.opts.GrowPageCount)
	}

	f, err := openPageFile(pm.path)
	if err != nil {
		return err
	}
	pm.file = f

	if err := pm.open(); err != nil {
		_ = closePageFile(f)
		pm.file = nil
		return err
	}
	pm.initialized = true
	return nil
}

func (pm *PageManager) open() error {
	logPath := pm.path + LogSuffix
	logLog := pm.opts.Logger.LogLogger().With().Str("path", logPath).Logger()

	res, err := wal.Rollback(logPath, pm.file)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	pm.rollback = res
	if res.Performed() {
		pm.metrics.RecordRollback(res.Kind())
		logLog.Warn().
			Str("session", res.Session.String()).
			Str("state", res.State.String()).
			Int("replayed", res.Replayed).
			Int64("extent", res.Extent).
			Msg("Rolled back interrupted write batch")
	}

	info, err := pm.file.Stat()
	if err != nil {
		return err
	}

	pm.writer = &directWriter{pm: pm}
	if info.Size() == 0 {
		err = pm.create()
	} else {
		err = pm.load(info.Size())
	}
	if err != nil {
		return err
	}

	if pm.opts.Buffered {
		pm.txlog = &wal.Log{Path: logPath, Logger: logLog}
		if err := pm.txlog.Open(pm); err != nil {
			return fmt.Errorf("open transaction log: %w", err)
		}
		pm.writer = newBufferedWriter(pm, pm.txlog, pm.extent())
	}

	pm.log.Info().
		Int32("total_pages", pm.totalPages).
		Int("free_pages", pm.free.Total()).
		Bool("buffered", pm.opts.Buffered).
		Msg("Opened index file")
	return nil
}

// create lays out a new file. Creation writes directly and is not logged;
// an interrupted creation leaves a file that fails validation.
func (pm *PageManager) create() error {
	hdr := make([]byte, fileHeaderSize)
	copy(hdr, fileMagic)
	binary.LittleEndian.PutUint16(hdr[6:8], formatVersion)
	if _, err := pm.file.WriteAt(hdr, 0); err != nil {
		return fmt.Errorf("write file header: %w", err)
	}

	pm.nextItemID = 0
	pm.nextNodeID = 1

	for _, t := range liveTypes {
		n, err := pm.allocatePage()
		if err != nil {
			return err
		}
		h := newPageHeader(n, t)
		pm.chain(t).InsertFirst(h)
		pm.cache.CacheHeader(h)
		if err := pm.writer.writeHeader(h, true); err != nil {
			return err
		}
	}
	if err := pm.writer.writeManagerHeader(); err != nil {
		return err
	}
	return syncPageFile(pm.file)
}

// load reads and validates an existing file
func (pm *PageManager) load(size int64) error {
	if size < fileHeaderSize+managerHeaderSize {
		return &CorruptionError{Page: NoPage, Reason: "file shorter than its header"}
	}
	buf := make([]byte, fileHeaderSize+managerHeaderSize)
	if _, err := pm.file.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("read file header: %w", err)
	}
	if string(buf[0:6]) != fileMagic {
		return &CorruptionError{Page: NoPage, Reason: "bad magic"}
	}
	if v := binary.LittleEndian.Uint16(buf[6:8]); v != formatVersion {
		return &CorruptionError{Page: NoPage, Reason: fmt.Sprintf("unsupported format version %d", v)}
	}

	mh := buf[fileHeaderSize:]
	var heads [len(liveTypes)]int32
	for i := range heads {
		heads[i] = int32(binary.LittleEndian.Uint32(mh[i*4:]))
	}
	pm.totalPages = int32(binary.LittleEndian.Uint32(mh[12:16]))
	pm.nextItemID = binary.LittleEndian.Uint32(mh[16:20])
	pm.nextNodeID = binary.LittleEndian.Uint32(mh[20:24])

	if pm.totalPages < int32(len(liveTypes)) {
		return &CorruptionError{Page: NoPage, Reason: fmt.Sprintf("total page count %d", pm.totalPages)}
	}
	extent := pm.extent()
	if size < extent {
		return &CorruptionError{Page: NoPage, Reason: fmt.Sprintf("file size %d below page extent %d", size, extent)}
	}
	if size > extent {
		// Growth that never reached the manager header
		if err := pm.file.Truncate(extent); err != nil {
			return fmt.Errorf("truncate file: %w", err)
		}
	}

	seen := make([]bool, pm.totalPages)
	for i, t := range liveTypes {
		if err := pm.loadChain(t, heads[i], seen); err != nil {
			return err
		}
	}

	// Free pages are everything no chain claims
	pm.free.Reset()
	for n := pm.totalPages - 1; n >= 0; n-- {
		if seen[n] {
			continue
		}
		h, err := pm.readHeader(n)
		if err != nil {
			return err
		}
		if h.Type != PageUnused {
			return &CorruptionError{Page: n, Reason: fmt.Sprintf("unlinked page has type %s", h.Type)}
		}
		pm.free.Push(n)
	}
	return nil
}

func (pm *PageManager) loadChain(t PageType, head int32, seen []bool) error {
	if head == NoPage {
		return &CorruptionError{Page: NoPage, Reason: fmt.Sprintf("%s chain has no pages", t)}
	}

	chain := pm.chain(t)
	prev := NoPage
	for n := head; n != NoPage; {
		if n < 0 || n >= pm.totalPages {
			return &CorruptionError{Page: prev, Reason: fmt.Sprintf("link to page %d out of range", n)}
		}
		if seen[n] {
			return &CorruptionError{Page: n, Reason: fmt.Sprintf("%s chain revisits page", t)}
		}
		seen[n] = true

		h, err := pm.readHeader(n)
		if err != nil {
			return err
		}
		if h.Type != t {
			return &CorruptionError{Page: n, Reason: fmt.Sprintf("page type %s in %s chain", h.Type, t)}
		}
		if h.Prev != prev {
			return &CorruptionError{Page: n, Reason: fmt.Sprintf("prev link %d, expected %d", h.Prev, prev)}
		}
		if int(h.Size) > pm.pageSize || h.Size < PageHeaderSize {
			return &CorruptionError{Page: n, Reason: fmt.Sprintf("byte size %d", h.Size)}
		}

		chain.InsertLast(h)
		pm.cache.CacheHeader(h)
		prev, n = n, h.Next
	}
	return nil
}

func (pm *PageManager) readHeader(n int32) (*PageHeader, error) {
	buf := make([]byte, PageHeaderSize)
	if _, err := pm.file.ReadAt(buf, pm.PageOffset(n)); err != nil {
		return nil, fmt.Errorf("read header of page %d: %w", n, err)
	}
	return decodePageHeader(n, buf), nil
}

// grow extends the file by GrowPageCount Unused pages
func (pm *PageManager) grow() error {
	first := pm.totalPages
	count := int32(pm.opts.GrowPageCount)
	unused := unusedHeaderBytes()

	if err := pm.file.Truncate(pm.PageOffset(first + count)); err != nil {
		return fmt.Errorf("grow file: %w", err)
	}
	for n := first; n < first+count; n++ {
		if _, err := pm.file.WriteAt(unused, pm.PageOffset(n)); err != nil {
			return fmt.Errorf("grow file: %w", err)
		}
	}
	pm.totalPages += count

	pm.free.PushRange(first, count)

	pm.metrics.FileGrown()
	pm.log.Debug().Int32("from", first).Int32("pages", count).Msg("Grew index file")
	return pm.writer.writeManagerHeader()
}

func (pm *PageManager) allocatePage() (int32, error) {
	if pm.free.Total() == 0 {
		if err := pm.grow(); err != nil {
			return NoPage, err
		}
	}
	n, _ := pm.free.Pop()
	return n, nil
}

func (pm *PageManager) ready() error {
	if pm.closed {
		return ErrClosed
	}
	if !pm.initialized {
		return ErrNotInitialized
	}
	return nil
}

func (pm *PageManager) chain(t PageType) *DataPageCollection {
	if !t.live() {
		panic(fmt.Sprintf("storage: no chain for page type %s", t))
	}
	return pm.chains[t-1]
}

// header returns the canonical header of a live page
func (pm *PageManager) header(n int32) *PageHeader {
	h, ok := pm.cache.GetHeader(n)
	if !ok {
		panic(fmt.Sprintf("storage: header of page %d not cached", n))
	}
	return h
}

// AllocateNewItemID returns the next item id and persists the counter
func (pm *PageManager) AllocateNewItemID() (uint32, error) {
	if err := pm.ready(); err != nil {
		return 0, err
	}
	id := pm.nextItemID
	pm.nextItemID++
	return id, pm.writer.writeManagerHeader()
}

// AllocateNewIndexNodeID returns the next node id and persists the counter.
// Node ids start at 1; 0 is the root.
func (pm *PageManager) AllocateNewIndexNodeID() (uint32, error) {
	if err := pm.ready(); err != nil {
		return 0, err
	}
	id := pm.nextNodeID
	pm.nextNodeID++
	return id, pm.writer.writeManagerHeader()
}

// CreatePage splices an empty page of the same type after prev
func (pm *PageManager) CreatePage(prev *DataPage) (*DataPage, error) {
	if err := pm.ready(); err != nil {
		return nil, err
	}
	if prev == nil || !prev.Header.Type.live() {
		return nil, fmt.Errorf("%w: create page after %v", ErrInvalidArgument, prev)
	}

	n, err := pm.allocatePage()
	if err != nil {
		return nil, err
	}

	ph := prev.Header
	h := newPageHeader(n, ph.Type)
	h.Prev = ph.Number
	h.Next = ph.Next
	ph.Next = n

	if h.Next != NoPage {
		nh := pm.header(h.Next)
		nh.Prev = n
		if err := pm.writer.writeHeader(nh, false); err != nil {
			return nil, err
		}
	}
	if err := pm.writer.writeHeader(ph, false); err != nil {
		return nil, err
	}
	if err := pm.writer.writeHeader(h, true); err != nil {
		return nil, err
	}

	pm.chain(h.Type).InsertAfter(h, ph)
	pm.cache.CacheHeader(h)
	page := &DataPage{Header: h}
	pm.cache.CachePage(page)

	pm.metrics.PageCreated()
	pm.log.Debug().Int32("page", n).Int32("after", ph.Number).Stringer("type", h.Type).Msg("Created page")
	return page, nil
}

// SavePage persists a page. An empty page is invalidated unless it is the
// only page of its chain. Saving an Unused page panics.
func (pm *PageManager) SavePage(p *DataPage) error {
	if err := pm.ready(); err != nil {
		return err
	}
	if p.Header.Type == PageUnused {
		panic(fmt.Sprintf("storage: saving unused page %d", p.Header.Number))
	}

	if len(p.Entries) == 0 && pm.chain(p.Header.Type).Len() > 1 {
		return pm.invalidate(p)
	}
	if err := pm.writer.writeBody(p); err != nil {
		return err
	}
	pm.cache.CachePage(p)
	return nil
}

// invalidate unlinks an empty page and returns it to the free list
func (pm *PageManager) invalidate(p *DataPage) error {
	h := p.Header
	if h.Prev != NoPage {
		ph := pm.header(h.Prev)
		ph.Next = h.Next
		if err := pm.writer.writeHeader(ph, false); err != nil {
			return err
		}
	}
	if h.Next != NoPage {
		nh := pm.header(h.Next)
		nh.Prev = h.Prev
		if err := pm.writer.writeHeader(nh, false); err != nil {
			return err
		}
	}

	pm.chain(h.Type).Remove(h)
	pm.writer.discardBody(h.Number)
	pm.cache.PurgePages(h.Number)
	pm.cache.PurgeHeaders(h.Number)

	t := h.Type
	*h = *newPageHeader(h.Number, PageUnused)
	if err := pm.writer.writeHeader(h, false); err != nil {
		return err
	}
	pm.free.Push(h.Number)

	pm.metrics.PageInvalidated()
	pm.log.Debug().Int32("page", h.Number).Stringer("type", t).Msg("Invalidated page")

	// The chain head may have moved
	return pm.writer.writeManagerHeader()
}

// GetPage returns the decoded page n
func (pm *PageManager) GetPage(n int32) (*DataPage, error) {
	if err := pm.ready(); err != nil {
		return nil, err
	}
	if p, ok := pm.cache.GetPage(n); ok {
		return p, nil
	}
	if p, ok := pm.writer.pendingPage(n); ok {
		pm.cache.CachePage(p)
		return p, nil
	}

	h, ok := pm.cache.GetHeader(n)
	if !ok {
		return nil, fmt.Errorf("%w: page %d is not live", ErrInvalidArgument, n)
	}
	buf := make([]byte, pm.pageSize)
	if _, err := pm.file.ReadAt(buf, pm.PageOffset(n)); err != nil {
		return nil, fmt.Errorf("read page %d: %w", n, err)
	}
	p, err := decodeDataPage(h, buf, pm.opts.KeyLength)
	if err != nil {
		return nil, err
	}
	pm.cache.CachePage(p)
	return p, nil
}

// GetPageHeader returns the header of live page n
func (pm *PageManager) GetPageHeader(n int32) (*PageHeader, bool) {
	return pm.cache.GetHeader(n)
}

// Collection returns the chain of page type t
func (pm *PageManager) Collection(t PageType) *DataPageCollection {
	return pm.chain(t)
}

// Flush writes deferred pages. It is a no-op for an unbuffered manager.
func (pm *PageManager) Flush() error {
	if err := pm.ready(); err != nil {
		return err
	}
	return pm.writer.flush()
}

// Close flushes, unlocks and closes the file
func (pm *PageManager) Close() error {
	if pm.closed || !pm.initialized {
		pm.closed = true
		return nil
	}

	err := pm.writer.flush()
	if pm.txlog != nil {
		err = errors.Join(err, pm.txlog.Close())
	}
	err = errors.Join(err, closePageFile(pm.file))
	pm.closed = true
	return err
}

// PageSize returns the page size in bytes
func (pm *PageManager) PageSize() int { return pm.pageSize }

// TotalPageCount returns the number of pages in the file
func (pm *PageManager) TotalPageCount() int { return int(pm.totalPages) }

// UnusedPageCount returns the number of pages on the free list
func (pm *PageManager) UnusedPageCount() int { return pm.free.Total() }

// PageCount returns the number of pages in the chain of type t
func (pm *PageManager) PageCount(t PageType) int { return pm.chain(t).Len() }

// NextItemID returns the id the next AllocateNewItemID will hand out
func (pm *PageManager) NextItemID() uint32 { return pm.nextItemID }

// NextIndexNodeID returns the id the next AllocateNewIndexNodeID will hand out
func (pm *PageManager) NextIndexNodeID() uint32 { return pm.nextNodeID }

// LastRollback reports what Initialize rolled back, if anything
func (pm *PageManager) LastRollback() *wal.RollbackResult { return pm.rollback }

// Cache returns the page cache
func (pm *PageManager) Cache() *PageCache { return pm.cache }

// PageOffset returns the file offset of page n
func (pm *PageManager) PageOffset(n int32) int64 {
	return int64(pm.pageSize) * int64(n+1)
}

// PageHeaderSize returns the encoded size of a page header
func (pm *PageManager) PageHeaderSize() int { return PageHeaderSize }

// LogicalPageSize returns the bytes in use by a page given its raw header
func (pm *PageManager) LogicalPageSize(header []byte) int {
	size := int(binary.LittleEndian.Uint16(header[19:21]))
	if PageType(header[0]) == PageUnused || size > pm.pageSize {
		return PageHeaderSize
	}
	return size
}

// extent is the file size implied by the page count
func (pm *PageManager) extent() int64 {
	return pm.PageOffset(pm.totalPages)
}

// managerHeaderBytes encodes the page manager header
func (pm *PageManager) managerHeaderBytes() []byte {
	buf := make([]byte, managerHeaderSize)
	for i, t := range liveTypes {
		head := NoPage
		if h := pm.chain(t).First(); h != nil {
			head = h.Number
		}
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(head))
	}
	binary.LittleEndian.PutUint32(buf[12:16], uint32(pm.totalPages))
	binary.LittleEndian.PutUint32(buf[16:20], pm.nextItemID)
	binary.LittleEndian.PutUint32(buf[20:24], pm.nextNodeID)
	return buf
}
