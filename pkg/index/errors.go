package index

import "errors"

var (
	// ErrClosed is returned by every call on a closed index
	ErrClosed = errors.New("index: closed")

	// ErrNotIndexed is returned when removing a key that is not indexed
	ErrNotIndexed = errors.New("index: key not indexed")
)
