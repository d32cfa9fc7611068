package wal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Degree is how much of a page a pending write touches. Higher degrees need
// larger pre-images; registering a page twice keeps the higher degree.
type Degree uint8

const (
	// DegreeCreated marks a page handed out by the allocator. Only its header
	// is logged, and only if it lies within the pre-batch file extent.
	DegreeCreated Degree = iota + 1

	// DegreeHeader marks a header-only rewrite
	DegreeHeader

	// DegreeBody marks a full page rewrite
	DegreeBody
)

// Geometry tells the log where pages live in the data file
type Geometry interface {
	// PageOffset returns the file offset of a page
	PageOffset(page int32) int64
	// PageHeaderSize returns the encoded size of a page header
	PageHeaderSize() int
	// LogicalPageSize returns how many bytes of a page are in use, read
	// from its raw header
	LogicalPageSize(header []byte) int
}

type span struct {
	offset int64
	length int
}

// Log is the transaction log of one data file. A batch goes through
// Begin, Register*, LogExistingDataForAffectedPages and Commit.
type Log struct {
	// Path is the log file path (e.g., "/data/index.db.txlog")
	Path string

	// Logger receives batch events; the zero value discards them
	Logger zerolog.Logger

	// fd is the log file descriptor
	fd *os.File

	// mu protects concurrent access to the log
	mu sync.Mutex

	geometry Geometry
	header   Header

	pages  map[int32]Degree
	ranges []span
	frozen bool
	closed bool
}

// Open opens or creates the log file. It does not interpret existing
// contents; run Rollback before opening a log that may hold a batch.
func (l *Log) Open(g Geometry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.Path), 0755); err != nil {
		return err
	}
	fd, err := os.OpenFile(l.Path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return err
	}

	l.fd = fd
	l.geometry = g
	l.pages = make(map[int32]Degree)
	l.closed = false
	return nil
}

// Begin starts a new batch against a data file of the given size.
func (l *Log) Begin(extent int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.fd == nil {
		return ErrLogClosed
	}

	if err := l.fd.Truncate(0); err != nil {
		return fmt.Errorf("reset log: %w", err)
	}

	l.header = Header{State: StateLogging, Extent: extent, Session: uuid.New()}
	if _, err := l.fd.WriteAt(l.header.Encode(), 0); err != nil {
		return fmt.Errorf("write log header: %w", err)
	}

	clear(l.pages)
	l.ranges = l.ranges[:0]
	l.frozen = false

	l.Logger.Debug().
		Str("session", l.header.Session.String()).
		Int64("extent", extent).
		Msg("Began write batch")
	return nil
}

// Session returns the id of the current batch
func (l *Log) Session() uuid.UUID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.header.Session
}

// RegisterPage records that page is about to be written at degree d
func (l *Log) RegisterPage(page int32, d Degree) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.frozen {
		return ErrFrozen
	}
	if d > l.pages[page] {
		l.pages[page] = d
	}
	return nil
}

// RegisterRange records that an arbitrary byte range is about to be written
func (l *Log) RegisterRange(offset int64, length int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.frozen {
		return ErrFrozen
	}
	l.ranges = append(l.ranges, span{offset: offset, length: length})
	return nil
}

// LogExistingDataForAffectedPages copies the pre-image of every registered
// page and range from data into the log, appends the end marker, marks the
// log fully written and freezes it. Once it returns, the data file may be
// written.
func (l *Log) LogExistingDataForAffectedPages(data io.ReaderAt) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.fd == nil {
		return ErrLogClosed
	}
	if l.frozen {
		return ErrFrozen
	}
	l.frozen = true

	spans := append([]span(nil), l.ranges...)
	hdrSize := l.geometry.PageHeaderSize()
	pages := make([]int32, 0, len(l.pages))
	for p := range l.pages {
		pages = append(pages, p)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })

	for _, p := range pages {
		off := l.geometry.PageOffset(p)
		if off+int64(hdrSize) > l.header.Extent {
			// Beyond the old extent: truncation alone restores it.
			continue
		}
		switch l.pages[p] {
		case DegreeCreated, DegreeHeader:
			spans = append(spans, span{offset: off, length: hdrSize})
		case DegreeBody:
			hdr := make([]byte, hdrSize)
			if _, err := data.ReadAt(hdr, off); err != nil {
				return fmt.Errorf("read header of page %d: %w", p, err)
			}
			spans = append(spans, span{offset: off, length: max(l.geometry.LogicalPageSize(hdr), hdrSize)})
		}
	}

	w := bufio.NewWriter(io.NewOffsetWriter(l.fd, HeaderSize))
	count := 0
	for _, s := range spans {
		if s.offset >= l.header.Extent {
			continue
		}
		length := min(int64(s.length), l.header.Extent-s.offset)
		buf := make([]byte, length)
		if _, err := data.ReadAt(buf, s.offset); err != nil {
			return fmt.Errorf("read pre-image at %d: %w", s.offset, err)
		}
		rec := Record{Kind: KindPreImage, Offset: s.offset, Data: buf}
		if _, err := w.Write(rec.Encode()); err != nil {
			return err
		}
		count++
	}
	end := Record{Kind: KindEnd, Offset: int64(count)}
	if _, err := w.Write(end.Encode()); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := l.fd.Sync(); err != nil {
		return err
	}

	l.Logger.Debug().
		Str("session", l.header.Session.String()).
		Int("pages", len(pages)).
		Int("pre_images", count).
		Msg("Logged pre-images")
	return l.setStateNoLock(StateLogged)
}

// Commit marks the batch as applied
func (l *Log) Commit() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.fd == nil {
		return ErrLogClosed
	}
	if l.header.State != StateLogged {
		return ErrNotLogged
	}
	if err := l.setStateNoLock(StateCommitted); err != nil {
		return err
	}
	l.Logger.Debug().Str("session", l.header.Session.String()).Msg("Committed write batch")
	return nil
}

// setStateNoLock rewrites the header state durably (caller must hold mu)
func (l *Log) setStateNoLock(s State) error {
	l.header.State = s
	if _, err := l.fd.WriteAt(l.header.Encode(), 0); err != nil {
		return fmt.Errorf("write log header: %w", err)
	}
	return l.fd.Sync()
}

// Close closes the log file
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.fd == nil {
		return nil
	}

	err := l.fd.Close()
	l.closed = true
	return err
}
