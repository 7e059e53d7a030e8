//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package device

import (
	"golang.org/x/sys/unix"
)

// mapPages reserves size bytes of anonymous, zero-filled memory (Unix implementation).
func mapPages(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

// unmapPages returns a region obtained from mapPages (Unix implementation).
func unmapPages(region []byte) error {
	return unix.Munmap(region)
}
