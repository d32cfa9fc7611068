package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned by page manager calls made before Initialize
	ErrNotInitialized = errors.New("storage: page manager not initialized")

	// ErrAlreadyInitialized is returned when Initialize is called twice
	ErrAlreadyInitialized = errors.New("storage: page manager already initialized")

	// ErrClosed indicates an operation on a closed page manager
	ErrClosed = errors.New("storage: page manager closed")

	// ErrCorrupted is wrapped by every CorruptionError
	ErrCorrupted = errors.New("storage: index file corrupted")

	// ErrEntryTooLarge means an entry does not fit even in an empty page;
	// the page size is too small for the key type
	ErrEntryTooLarge = errors.New("storage: entry larger than a page")

	// ErrInvalidPageSize indicates an unsupported page size
	ErrInvalidPageSize = errors.New("storage: invalid page size")

	// ErrInvalidArgument indicates a nil or out-of-range argument
	ErrInvalidArgument = errors.New("storage: invalid argument")

	// ErrStalePage means a changed page was read back from the file before
	// it was saved
	ErrStalePage = errors.New("storage: page read before its changes were saved")

	// ErrFileLocked indicates another process holds the index file
	ErrFileLocked = errors.New("storage: index file locked by another process")
)

// CorruptionError describes an inconsistency found while reading the file.
// The file cannot be used until it is restored from elsewhere.
type CorruptionError struct {
	Page   int32
	Reason string
}

func (e *CorruptionError) Error() string {
	if e.Page == NoPage {
		return fmt.Sprintf("storage: corrupted index file: %s", e.Reason)
	}
	return fmt.Sprintf("storage: corrupted index file at page %d: %s", e.Page, e.Reason)
}

func (e *CorruptionError) Unwrap() error {
	return ErrCorrupted
}
