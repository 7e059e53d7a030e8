package device

import (
	"fmt"
	"sync"
	"unsafe"
)

// pageArena tracks regions obtained from the OS page allocator.
// limit == 0 means unbounded.
type pageArena struct {
	mu    sync.Mutex
	pages map[uintptr][]byte
	used  int64
	limit int64
}

func newPageArena(limit int64) *pageArena {
	return &pageArena{pages: make(map[uintptr][]byte), limit: limit}
}

func (a *pageArena) alloc(size int) (uintptr, error) {
	if size < 0 {
		return 0, fmt.Errorf("negative allocation size %d", size)
	}
	if size == 0 {
		return 0, nil
	}

	a.mu.Lock()
	if a.limit > 0 && a.used+int64(size) > a.limit {
		used := a.used
		a.mu.Unlock()
		return 0, fmt.Errorf("%w: requested %d bytes, %d of %d in use", ErrOutOfMemory, size, used, a.limit)
	}
	a.used += int64(size)
	a.mu.Unlock()

	region, err := mapPages(size)
	if err != nil {
		a.mu.Lock()
		a.used -= int64(size)
		a.mu.Unlock()
		return 0, fmt.Errorf("%w: %w", ErrOutOfMemory, err)
	}

	ptr := uintptr(unsafe.Pointer(&region[0]))
	a.mu.Lock()
	a.pages[ptr] = region
	a.mu.Unlock()
	return ptr, nil
}

func (a *pageArena) free(ptr uintptr) error {
	a.mu.Lock()
	region, ok := a.pages[ptr]
	if ok {
		delete(a.pages, ptr)
		a.used -= int64(len(region))
	}
	a.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %#x", ErrUnknownPointer, ptr)
	}
	return unmapPages(region)
}

// inUse returns the number of bytes currently allocated.
func (a *pageArena) inUse() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}

// live returns the number of outstanding regions.
func (a *pageArena) live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pages)
}

// hostSlice views n bytes at a host address.
func hostSlice(ptr uintptr, n int) []byte {
	if n == 0 {
		return nil
	}
	//nolint:gosec // ptr is a host address handed out by an addressable driver or by the caller
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n)
}

// HostDriver serves process memory. Regions come straight from the OS
// page allocator so their addresses are stable and never touched by the
// Go garbage collector.
type HostDriver struct {
	arena *pageArena
}

// NewHost creates the host memory driver.
func NewHost() *HostDriver {
	return &HostDriver{arena: newPageArena(0)}
}

// Kind implements Driver.
func (h *HostDriver) Kind() Kind { return Host }

// Platform implements Driver.
func (h *HostDriver) Platform() Platform { return PlatformCPU }

// Name implements Driver.
func (h *HostDriver) Name() string { return "host" }

// Addressable implements Driver.
func (h *HostDriver) Addressable() bool { return true }

// Alloc implements Driver.
func (h *HostDriver) Alloc(size int) (uintptr, error) { return h.arena.alloc(size) }

// Free implements Driver.
func (h *HostDriver) Free(ptr uintptr) error { return h.arena.free(ptr) }

// Upload implements Driver.
func (h *HostDriver) Upload(dst uintptr, src []byte) error {
	copy(hostSlice(dst, len(src)), src)
	return nil
}

// Download implements Driver.
func (h *HostDriver) Download(dst []byte, src uintptr) error {
	copy(dst, hostSlice(src, len(dst)))
	return nil
}

// InUse returns the number of bytes currently allocated.
func (h *HostDriver) InUse() int64 { return h.arena.inUse() }

// Live returns the number of outstanding allocations.
func (h *HostDriver) Live() int { return h.arena.live() }

// HostBytes returns a zero-copy slice over n bytes at a host address.
// The caller guarantees the memory is live for as long as the slice is used.
func HostBytes(ptr uintptr, n int) []byte {
	return hostSlice(ptr, n)
}
