// Package wal implements the transaction log that makes buffered page writes
// crash safe by recording page pre-images before they are overwritten
package wal

import "errors"

var (
	// ErrCorrupted indicates a corrupted log record (CRC mismatch)
	ErrCorrupted = errors.New("wal: corrupted record")

	// ErrInvalidRecord indicates an invalid log record format
	ErrInvalidRecord = errors.New("wal: invalid record")

	// ErrLogClosed indicates an operation on a closed log
	ErrLogClosed = errors.New("wal: log closed")

	// ErrTruncated indicates a truncated log record
	ErrTruncated = errors.New("wal: truncated record")

	// ErrBadHeader indicates the log file header is not recognised
	ErrBadHeader = errors.New("wal: bad log header")

	// ErrFrozen indicates a registration after pre-images were written
	ErrFrozen = errors.New("wal: log frozen")

	// ErrNotLogged indicates Commit was called before pre-images were logged
	ErrNotLogged = errors.New("wal: pre-images not logged")
)
