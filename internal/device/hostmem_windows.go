//go:build windows

package device

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// mapPages reserves and commits size bytes of zero-filled memory (Windows implementation).
func mapPages(size int) ([]byte, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_RESERVE|windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}
	//nolint:gosec // addr is a fresh VirtualAlloc region of exactly size bytes
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

// unmapPages releases a region obtained from mapPages (Windows implementation).
func unmapPages(region []byte) error {
	return windows.VirtualFree(uintptr(unsafe.Pointer(&region[0])), 0, windows.MEM_RELEASE)
}
