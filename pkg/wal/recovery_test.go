package wal

import (
	"bytes"
	"os"
	"testing"
)

// writeBatch logs pre-images for pages and then scribbles over them,
// growing the file by grow pages. It stops before Commit unless commit is set.
func writeBatch(t *testing.T, l *Log, data *os.File, pages []int32, grow int, commit bool) {
	t.Helper()
	info, err := data.Stat()
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Begin(info.Size()); err != nil {
		t.Fatal(err)
	}
	for _, p := range pages {
		l.RegisterPage(p, DegreeBody)
	}
	l.RegisterRange(0, 16)
	if err := l.LogExistingDataForAffectedPages(data); err != nil {
		t.Fatal(err)
	}

	junk := bytes.Repeat([]byte{0xEE}, testPageSize)
	for _, p := range pages {
		data.WriteAt(junk[:40], testGeometry{}.PageOffset(p))
	}
	data.WriteAt(junk[:16], 0)
	if grow > 0 {
		data.WriteAt(bytes.Repeat(junk, grow), info.Size())
	}

	if commit {
		if err := l.Commit(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRollbackLoggedBatch(t *testing.T) {
	dir := t.TempDir()
	data := newDataFile(t, dir, 4)
	defer data.Close()
	before := snapshot(t, data)

	l := openLog(t, dir)
	writeBatch(t, l, data, []int32{0, 2}, 3, false)
	l.Close()

	res, err := Rollback(l.Path, data)
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateLogged {
		t.Errorf("expected logged state, got %s", res.State)
	}
	if res.Replayed != 3 {
		t.Errorf("expected 3 replayed pre-images, got %d", res.Replayed)
	}
	if !res.Truncated {
		t.Error("expected growth to be truncated")
	}
	if res.Kind() != "replay" {
		t.Errorf("expected replay kind, got %s", res.Kind())
	}

	if after := snapshot(t, data); !bytes.Equal(before, after) {
		t.Error("data file differs from its pre-batch contents")
	}

	info, _ := os.Stat(l.Path)
	if info.Size() != 0 {
		t.Errorf("expected empty log after rollback, got %d bytes", info.Size())
	}
}

func TestRollbackCommittedBatch(t *testing.T) {
	dir := t.TempDir()
	data := newDataFile(t, dir, 2)
	defer data.Close()

	l := openLog(t, dir)
	writeBatch(t, l, data, []int32{1}, 1, true)
	l.Close()
	after := snapshot(t, data)

	res, err := Rollback(l.Path, data)
	if err != nil {
		t.Fatal(err)
	}
	if res.Performed() {
		t.Errorf("committed batch must not be rolled back: %+v", res)
	}
	if !bytes.Equal(after, snapshot(t, data)) {
		t.Error("committed data was modified")
	}
}

func TestRollbackLoggingBatchTruncatesOnly(t *testing.T) {
	dir := t.TempDir()
	data := newDataFile(t, dir, 2)
	defer data.Close()
	info, _ := data.Stat()

	l := openLog(t, dir)
	defer l.Close()
	l.Begin(info.Size())
	l.RegisterPage(0, DegreeBody)

	// Growth happens before pre-images are complete
	data.WriteAt(make([]byte, testPageSize*2), info.Size())

	res, err := Rollback(l.Path, data)
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateLogging || res.Replayed != 0 || !res.Truncated {
		t.Errorf("unexpected rollback result: %+v", res)
	}
	if res.Kind() != "truncate" {
		t.Errorf("expected truncate kind, got %s", res.Kind())
	}

	now, _ := data.Stat()
	if now.Size() != info.Size() {
		t.Errorf("size mismatch: got %d, want %d", now.Size(), info.Size())
	}
}

func TestRollbackWithoutLog(t *testing.T) {
	dir := t.TempDir()
	data := newDataFile(t, dir, 1)
	defer data.Close()

	res, err := Rollback(dir+"/missing.txlog", data)
	if err != nil {
		t.Fatal(err)
	}
	if res.Performed() || res.Kind() != "none" {
		t.Errorf("expected no rollback, got %+v", res)
	}
}

func TestRollbackIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	data := newDataFile(t, dir, 3)
	defer data.Close()
	before := snapshot(t, data)

	l := openLog(t, dir)
	writeBatch(t, l, data, []int32{1, 2}, 0, false)
	l.Close()

	for i := 0; i < 2; i++ {
		if _, err := Rollback(l.Path, data); err != nil {
			t.Fatalf("rollback %d failed: %v", i, err)
		}
	}
	if !bytes.Equal(before, snapshot(t, data)) {
		t.Error("data file differs after repeated rollback")
	}
}
