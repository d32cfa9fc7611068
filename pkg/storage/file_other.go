//go:build !unix

// ABOUTME: Page file open and sync for platforms without flock
// ABOUTME: No advisory locking is taken

package storage

import (
	"fmt"
	"os"
)

func openPageFile(name string) (*os.File, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

func syncPageFile(f *os.File) error {
	return f.Sync()
}

func closePageFile(f *os.File) error {
	return f.Close()
}
