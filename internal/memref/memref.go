// Package memref describes typed multi-dimensional buffers and builds them.
//
// A MemRef is an immutable descriptor (shape, strides, dtype, device,
// pointer) over a reference-counted lifetime.Storage. Several descriptors
// may share one storage; the memory is freed when the last of them, and
// the last exported capsule, lets go.
package memref

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"

	"github.com/born-ml/memrt/internal/device"
	"github.com/born-ml/memrt/internal/lifetime"
	"github.com/born-ml/memrt/internal/scalar"
)

// Ownership tells whether a memref's storage was allocated by the runtime.
type Ownership int

// Ownership kinds.
const (
	Owned Ownership = iota
	View
)

// String returns the ownership name.
func (o Ownership) String() string {
	if o == Owned {
		return "owned"
	}
	return "view"
}

// MemRef is a typed buffer descriptor.
type MemRef struct {
	shape     []int64
	strides   []int64
	dtype     scalar.Type
	dev       *device.Device
	ptr       uintptr
	ownership Ownership

	ref     *reference
	cleanup runtime.Cleanup
}

// reference is the descriptor's single hold on its storage. It lives apart
// from the MemRef so the cleanup can run after the MemRef is unreachable.
type reference struct {
	storage  *lifetime.Storage
	released atomic.Bool
	logger   *slog.Logger
}

func (r *reference) release() error {
	if !r.released.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: memref already released", lifetime.ErrUseAfterFree)
	}
	return r.storage.Release()
}

func dropped(r *reference) {
	if r.released.Load() {
		return
	}
	if err := r.release(); err != nil {
		r.logger.Warn("release of dropped memref failed", "storage", r.storage.ID(), "error", err)
	}
}

// newMemRef takes over one reference on storage.
func newMemRef(s *lifetime.Storage, shape, strides []int64, dtype scalar.Type, dev *device.Device, ptr uintptr, own Ownership, logger *slog.Logger) *MemRef {
	m := &MemRef{
		shape:     shape,
		strides:   strides,
		dtype:     dtype,
		dev:       dev,
		ptr:       ptr,
		ownership: own,
		ref:       &reference{storage: s, logger: logger},
	}
	m.cleanup = runtime.AddCleanup(m, dropped, m.ref)
	return m
}

// Shape returns a copy of the dimensions.
func (m *MemRef) Shape() []int64 { return cloneDims(m.shape) }

// Strides returns a copy of the strides, in elements.
func (m *MemRef) Strides() []int64 { return cloneDims(m.strides) }

// Rank returns the number of dimensions.
func (m *MemRef) Rank() int { return len(m.shape) }

// DType returns the element type.
func (m *MemRef) DType() scalar.Type { return m.dtype }

// Device returns the memory space holding the data.
func (m *MemRef) Device() *device.Device { return m.dev }

// Ptr returns the data pointer. It is 0 only for empty memrefs.
func (m *MemRef) Ptr() uintptr { return m.ptr }

// Ownership reports whether the runtime allocated the storage.
func (m *MemRef) Ownership() Ownership { return m.ownership }

// NumElements returns the logical element count.
func (m *MemRef) NumElements() int64 { return NumElements(m.shape) }

// ByteSize returns the number of bytes spanned by the layout.
func (m *MemRef) ByteSize() int64 {
	return SpanElements(m.shape, m.strides) * int64(m.dtype.ByteSize())
}

// IsHost reports whether the data lives in host memory.
func (m *MemRef) IsHost() bool { return m.dev.IsHost() }

// IsRowMajor reports whether the layout is dense and row-major.
func (m *MemRef) IsRowMajor() bool { return IsRowMajor(m.shape, m.strides) }

// Storage returns the control block shared by this memref.
func (m *MemRef) Storage() *lifetime.Storage { return m.ref.storage }

// Released reports whether Release was called on this descriptor.
func (m *MemRef) Released() bool { return m.ref.released.Load() }

func (m *MemRef) checkLive() error {
	if m.ref.released.Load() {
		return fmt.Errorf("%w: memref already released", lifetime.ErrUseAfterFree)
	}
	return nil
}

// Bytes returns the spanned bytes without copying. The slice is valid only
// while the memref is live: the slice does not keep m reachable, so callers
// that drop m must hold it with runtime.KeepAlive(m) until the last use of
// the slice, or the cleanup of a dropped memref may free the memory.
func (m *MemRef) Bytes() ([]byte, error) {
	if err := m.checkLive(); err != nil {
		return nil, err
	}
	if !m.dev.Driver().Addressable() {
		return nil, fmt.Errorf("%w: %s", device.ErrNotAddressable, m.dev)
	}
	n := m.ByteSize()
	if n == 0 {
		return []byte{}, nil
	}
	return device.HostBytes(m.ptr, int(n)), nil
}

// CopyToHost downloads the spanned bytes into a fresh slice.
func (m *MemRef) CopyToHost() ([]byte, error) {
	if err := m.checkLive(); err != nil {
		return nil, err
	}
	out := make([]byte, m.ByteSize())
	if len(out) == 0 {
		return out, nil
	}
	if err := m.dev.Driver().Download(out, m.ptr); err != nil {
		return nil, fmt.Errorf("copy %s to host: %w", m.dev, err)
	}
	runtime.KeepAlive(m)
	return out, nil
}

// Clone returns a second descriptor over the same storage.
func (m *MemRef) Clone() (*MemRef, error) {
	if err := m.checkLive(); err != nil {
		return nil, err
	}
	s := m.ref.storage
	if err := s.Retain(); err != nil {
		return nil, err
	}
	return newMemRef(s, cloneDims(m.shape), cloneDims(m.strides), m.dtype, m.dev, m.ptr, m.ownership, m.ref.logger), nil
}

// Release drops this descriptor's reference. A second call fails with
// lifetime.ErrUseAfterFree.
func (m *MemRef) Release() error {
	if err := m.ref.release(); err != nil {
		return err
	}
	m.cleanup.Stop()
	return nil
}

// String prints the descriptor, e.g. "MemRefValue shape=[3] dtype=ScalarTypeCode.f32 strides=[1]".
func (m *MemRef) String() string {
	return fmt.Sprintf("MemRefValue shape=%s dtype=%s strides=%s",
		formatDims(m.shape), m.dtype.Name(), formatDims(m.strides))
}
