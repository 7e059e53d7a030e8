package device

import "fmt"

// DefaultEmulatedCapacity is the memory size of an emulated accelerator (256MB).
const DefaultEmulatedCapacity = 256 << 20

// EmulatedDriver is an accelerator memory space carved out of host pages.
//
// It behaves like a discrete device with a fixed amount of memory:
// requests beyond the capacity fail with ErrOutOfMemory. Its memory is
// host addressable, so consumers can read it without a staging copy. It
// is exchanged under the DLPack extension device type.
type EmulatedDriver struct {
	name  string
	arena *pageArena
}

// NewEmulated creates an emulated accelerator with capacity bytes of memory.
// A capacity <= 0 selects DefaultEmulatedCapacity.
func NewEmulated(name string, capacity int64) *EmulatedDriver {
	if capacity <= 0 {
		capacity = DefaultEmulatedCapacity
	}
	if name == "" {
		name = "emulated"
	}
	return &EmulatedDriver{name: name, arena: newPageArena(capacity)}
}

// Kind implements Driver.
func (e *EmulatedDriver) Kind() Kind { return Accelerator }

// Platform implements Driver.
func (e *EmulatedDriver) Platform() Platform { return PlatformExtDev }

// Name implements Driver.
func (e *EmulatedDriver) Name() string { return e.name }

// Addressable implements Driver.
func (e *EmulatedDriver) Addressable() bool { return true }

// Alloc implements Driver.
func (e *EmulatedDriver) Alloc(size int) (uintptr, error) {
	ptr, err := e.arena.alloc(size)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", e.name, err)
	}
	return ptr, nil
}

// Free implements Driver.
func (e *EmulatedDriver) Free(ptr uintptr) error { return e.arena.free(ptr) }

// Upload implements Driver.
func (e *EmulatedDriver) Upload(dst uintptr, src []byte) error {
	copy(hostSlice(dst, len(src)), src)
	return nil
}

// Download implements Driver.
func (e *EmulatedDriver) Download(dst []byte, src uintptr) error {
	copy(dst, hostSlice(src, len(dst)))
	return nil
}

// Capacity returns the total memory size.
func (e *EmulatedDriver) Capacity() int64 { return e.arena.limit }

// InUse returns the number of bytes currently allocated.
func (e *EmulatedDriver) InUse() int64 { return e.arena.inUse() }

// Live returns the number of outstanding allocations.
func (e *EmulatedDriver) Live() int { return e.arena.live() }
