// ABOUTME: Write strategies for the page manager
// ABOUTME: Direct writes go straight to the file; buffered writes wait for Flush behind the transaction log

package storage

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/nainya/triestore/pkg/wal"
)

// pageWriter decides when page manager writes reach the file
type pageWriter interface {
	// writeHeader persists a header; created marks a page just taken off
	// the free list
	writeHeader(h *PageHeader, created bool) error
	writeBody(p *DataPage) error
	// discardBody drops a deferred body write for an invalidated page
	discardBody(n int32)
	writeManagerHeader() error
	// pendingPage returns a page whose body write is deferred
	pendingPage(n int32) (*DataPage, bool)
	flush() error
}

// directWriter writes through immediately without logging
type directWriter struct {
	pm *PageManager
}

func (w *directWriter) writeHeader(h *PageHeader, _ bool) error {
	buf := make([]byte, PageHeaderSize)
	h.encode(buf)
	if _, err := w.pm.file.WriteAt(buf, w.pm.PageOffset(h.Number)); err != nil {
		return fmt.Errorf("write header of page %d: %w", h.Number, err)
	}
	return nil
}

func (w *directWriter) writeBody(p *DataPage) error {
	buf := make([]byte, w.pm.pageSize)
	p.encode(buf)
	if _, err := w.pm.file.WriteAt(buf, w.pm.PageOffset(p.Header.Number)); err != nil {
		return fmt.Errorf("write page %d: %w", p.Header.Number, err)
	}
	return nil
}

func (w *directWriter) discardBody(int32) {}

func (w *directWriter) writeManagerHeader() error {
	if _, err := w.pm.file.WriteAt(w.pm.managerHeaderBytes(), fileHeaderSize); err != nil {
		return fmt.Errorf("write manager header: %w", err)
	}
	return nil
}

func (w *directWriter) pendingPage(int32) (*DataPage, bool) { return nil, false }

func (w *directWriter) flush() error { return nil }

// bufferedWriter coalesces writes per page until flush. Each flush is one
// transaction log batch.
type bufferedWriter struct {
	pm  *PageManager
	log *wal.Log

	headers      map[int32]*PageHeader
	bodies       map[int32]*DataPage
	created      map[int32]bool
	managerDirty bool

	// extent is the file size as of the last committed batch
	extent int64
}

func newBufferedWriter(pm *PageManager, log *wal.Log, extent int64) *bufferedWriter {
	return &bufferedWriter{
		pm:      pm,
		log:     log,
		headers: make(map[int32]*PageHeader),
		bodies:  make(map[int32]*DataPage),
		created: make(map[int32]bool),
		extent:  extent,
	}
}

func (w *bufferedWriter) writeHeader(h *PageHeader, created bool) error {
	w.headers[h.Number] = h
	if created {
		w.created[h.Number] = true
	}
	return nil
}

func (w *bufferedWriter) writeBody(p *DataPage) error {
	w.bodies[p.Header.Number] = p
	return nil
}

func (w *bufferedWriter) discardBody(n int32) {
	delete(w.bodies, n)
}

func (w *bufferedWriter) writeManagerHeader() error {
	w.managerDirty = true
	return nil
}

func (w *bufferedWriter) pendingPage(n int32) (*DataPage, bool) {
	if p, ok := w.bodies[n]; ok {
		return p, true
	}
	// A page created in this batch and not saved yet is still empty;
	// the file holds its old Unused image.
	if h, ok := w.headers[n]; ok && w.created[n] && h.Type.live() {
		return &DataPage{Header: h}, true
	}
	return nil, false
}

func (w *bufferedWriter) empty() bool {
	return len(w.headers) == 0 && len(w.bodies) == 0 && !w.managerDirty
}

func (w *bufferedWriter) flush() error {
	if w.empty() {
		return nil
	}
	start := time.Now()
	pm := w.pm

	if err := w.log.Begin(w.extent); err != nil {
		return err
	}
	for n := range w.created {
		if err := w.log.RegisterPage(n, wal.DegreeCreated); err != nil {
			return err
		}
	}
	for n := range w.headers {
		if err := w.log.RegisterPage(n, wal.DegreeHeader); err != nil {
			return err
		}
	}
	for n := range w.bodies {
		if err := w.log.RegisterPage(n, wal.DegreeBody); err != nil {
			return err
		}
	}
	if w.managerDirty {
		if err := w.log.RegisterRange(fileHeaderSize, managerHeaderSize); err != nil {
			return err
		}
	}
	if err := w.log.LogExistingDataForAffectedPages(pm.file); err != nil {
		return fmt.Errorf("log pre-images: %w", err)
	}

	direct := directWriter{pm: pm}
	for _, n := range slices.Sorted(maps.Keys(w.bodies)) {
		if err := direct.writeBody(w.bodies[n]); err != nil {
			return err
		}
	}
	for _, n := range slices.Sorted(maps.Keys(w.headers)) {
		if _, ok := w.bodies[n]; ok {
			continue
		}
		if err := direct.writeHeader(w.headers[n], false); err != nil {
			return err
		}
	}
	if w.managerDirty {
		if err := direct.writeManagerHeader(); err != nil {
			return err
		}
	}
	if err := syncPageFile(pm.file); err != nil {
		return fmt.Errorf("sync index file: %w", err)
	}
	if err := w.log.Commit(); err != nil {
		return err
	}

	pm.log.Debug().
		Str("session", w.log.Session().String()).
		Int("bodies", len(w.bodies)).
		Int("headers", len(w.headers)).
		Msg("Flushed write batch")

	w.extent = pm.extent()
	clear(w.headers)
	clear(w.bodies)
	clear(w.created)
	w.managerDirty = false
	pm.metrics.RecordFlush(time.Since(start))
	return nil
}
