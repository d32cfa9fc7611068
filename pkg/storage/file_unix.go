//go:build unix

// ABOUTME: Page file open, advisory locking and fsync on unix systems
// ABOUTME: Uses flock so a second process cannot open the same index

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// openPageFile opens or creates the index file, takes an exclusive lock on it
// and fsyncs the parent directory so a new file survives a crash.
func openPageFile(name string) (*os.File, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrFileLocked
		}
		return nil, fmt.Errorf("lock file: %w", err)
	}

	dirfd, err := unix.Open(filepath.Dir(name), unix.O_RDONLY, 0)
	if err != nil {
		_ = closePageFile(f)
		return nil, fmt.Errorf("open directory: %w", err)
	}
	defer unix.Close(dirfd)

	if err := unix.Fsync(dirfd); err != nil {
		_ = closePageFile(f)
		return nil, fmt.Errorf("fsync directory: %w", err)
	}
	return f, nil
}

func syncPageFile(f *os.File) error {
	return unix.Fsync(int(f.Fd()))
}

func closePageFile(f *os.File) error {
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return f.Close()
}
