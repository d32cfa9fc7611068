package wal

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// RollbackResult describes what Rollback did to the data file
type RollbackResult struct {
	Session   uuid.UUID
	State     State
	Replayed  int   // pre-images written back
	Truncated bool  // data file cut back to Extent
	Extent    int64 // data file size before the interrupted batch
}

// Performed reports whether the data file was touched
func (r *RollbackResult) Performed() bool {
	return r != nil && (r.Replayed > 0 || r.Truncated)
}

// Kind names the rollback for metrics and logs
func (r *RollbackResult) Kind() string {
	switch {
	case r == nil || !r.Performed():
		return "none"
	case r.Replayed > 0:
		return "replay"
	default:
		return "truncate"
	}
}

// Rollback restores data to its state before the last uncommitted batch
// recorded in the log at logPath, then empties the log.
//
// A missing, empty or committed log needs nothing. A log still in the
// logging state means the data file was never written, so only growth is
// undone. A logged batch is undone by writing every pre-image back.
func Rollback(logPath string, data *os.File) (*RollbackResult, error) {
	res := &RollbackResult{}

	header, records, err := ReadAll(logPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return res, nil
		}
		if header == nil {
			return nil, fmt.Errorf("read log: %w", err)
		}
	}
	if header == nil {
		return res, nil
	}

	res.Session = header.Session
	res.State = header.State
	res.Extent = header.Extent

	switch header.State {
	case StateCommitted:
		return res, resetLog(logPath)

	case StateLogged:
		if err != nil {
			// Logged implies the end marker was synced before the state flip
			return nil, fmt.Errorf("logged batch %s: %w", header.Session, err)
		}
		for _, rec := range records {
			if _, err := data.WriteAt(rec.Data, rec.Offset); err != nil {
				return nil, fmt.Errorf("replay pre-image at %d: %w", rec.Offset, err)
			}
			res.Replayed++
		}
	}

	// Both logging and logged batches may have grown the file
	info, err := data.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() > header.Extent {
		if err := data.Truncate(header.Extent); err != nil {
			return nil, fmt.Errorf("truncate data file: %w", err)
		}
		res.Truncated = true
	}

	if err := data.Sync(); err != nil {
		return nil, err
	}
	return res, resetLog(logPath)
}

// resetLog empties the log file so the next open starts clean
func resetLog(path string) error {
	err := os.Truncate(path, 0)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
