//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly || windows)

package device

// mapPages falls back to the Go heap where no page allocator is wired.
// The arena keeps the slice reachable and the collector does not move it.
func mapPages(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmapPages(_ []byte) error {
	return nil
}
