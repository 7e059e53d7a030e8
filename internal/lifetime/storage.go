// Package lifetime reference-counts storage shared between memrefs and
// the foreign consumers of their exported capsules.
//
// A Storage is the control block of one storage identity: an allocation
// or an external pointer. Descriptors and capsules hold references to it;
// the finaliser recorded at registration runs exactly once, when the last
// reference is released, no matter which holder releases last.
package lifetime

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/born-ml/memrt/internal/device"
)

// ErrUseAfterFree is returned when a storage is retained after it died or
// released more times than it was retained.
var ErrUseAfterFree = errors.New("use after free")

// Key identifies storage by where it lives.
type Key struct {
	Device *device.Device
	Addr   uintptr
}

// Storage is a reference-counted control block.
type Storage struct {
	id       uint64
	key      Key
	refs     atomic.Int64
	finalize func() error
	coord    *Coordinator

	pinMu sync.Mutex
	pins  []any
}

// ID returns the coordinator-assigned identity.
func (s *Storage) ID() uint64 { return s.id }

// Key returns where the storage lives.
func (s *Storage) Key() Key { return s.key }

// Refs returns the current reference count.
func (s *Storage) Refs() int64 { return s.refs.Load() }

// Alive reports whether the storage still has holders.
func (s *Storage) Alive() bool { return s.refs.Load() > 0 }

// Pin keeps v reachable until the storage is finalised. Views use it to
// hold on to the Go value that owns the memory they point into.
func (s *Storage) Pin(v any) {
	if v == nil {
		return
	}
	s.pinMu.Lock()
	s.pins = append(s.pins, v)
	s.pinMu.Unlock()
}

// Retain adds a holder. A storage that already reached zero cannot be revived.
func (s *Storage) Retain() error {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return fmt.Errorf("%w: retain of storage %d", ErrUseAfterFree, s.id)
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Release drops a holder. The caller that takes the count to zero runs the
// finaliser and receives its error.
func (s *Storage) Release() error {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return fmt.Errorf("%w: release of storage %d", ErrUseAfterFree, s.id)
		}
		if !s.refs.CompareAndSwap(n, n-1) {
			continue
		}
		if n > 1 {
			return nil
		}
		return s.destroy()
	}
}

func (s *Storage) destroy() error {
	if s.coord != nil {
		s.coord.forget(s)
		defer s.coord.settle()
	}
	defer func() {
		s.pinMu.Lock()
		s.pins = nil
		s.pinMu.Unlock()
	}()
	if s.finalize == nil {
		return nil
	}
	if err := s.finalize(); err != nil {
		return fmt.Errorf("finalize storage %d: %w", s.id, err)
	}
	return nil
}
