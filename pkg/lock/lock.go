// Package lock provides the process-wide reader/writer lock that serializes
// index operations
package lock

import (
	"sync"
	"sync/atomic"
)

// Mode is the kind of access a handle grants
type Mode uint8

const (
	Read Mode = iota
	Write
)

func (m Mode) String() string {
	if m == Write {
		return "write"
	}
	return "read"
}

// Handle is a held lock. Release may be called more than once.
type Handle interface {
	Release()
}

// Manager hands out scoped read and write locks
type Manager interface {
	AcquireRead() Handle
	AcquireWrite() Handle
}

// RWManager is a Manager on a sync.RWMutex. Writers exclude everyone;
// readers exclude only writers. A disabled manager hands out no-op handles.
type RWManager struct {
	mu       sync.RWMutex
	disabled atomic.Bool

	// OnAcquired and OnReleased, when set, are called after a lock is taken
	// and after it is given back
	OnAcquired func(Mode)
	OnReleased func(Mode)
}

// NewRWManager returns an enabled manager
func NewRWManager() *RWManager {
	return &RWManager{}
}

// SetEnabled switches locking on or off. Handles already held keep their lock.
func (m *RWManager) SetEnabled(enabled bool) {
	m.disabled.Store(!enabled)
}

// Enabled reports whether the manager takes locks
func (m *RWManager) Enabled() bool {
	return !m.disabled.Load()
}

// AcquireRead blocks until a shared lock is held
func (m *RWManager) AcquireRead() Handle {
	if m.disabled.Load() {
		return nopHandle{}
	}
	m.mu.RLock()
	return m.acquired(Read, m.mu.RUnlock)
}

// AcquireWrite blocks until an exclusive lock is held
func (m *RWManager) AcquireWrite() Handle {
	if m.disabled.Load() {
		return nopHandle{}
	}
	m.mu.Lock()
	return m.acquired(Write, m.mu.Unlock)
}

func (m *RWManager) acquired(mode Mode, unlock func()) Handle {
	if m.OnAcquired != nil {
		m.OnAcquired(mode)
	}
	return &handle{mode: mode, unlock: unlock, released: m.OnReleased}
}

type handle struct {
	once     sync.Once
	mode     Mode
	unlock   func()
	released func(Mode)
}

func (h *handle) Release() {
	h.once.Do(func() {
		h.unlock()
		if h.released != nil {
			h.released(h.mode)
		}
	})
}

type nopHandle struct{}

func (nopHandle) Release() {}
