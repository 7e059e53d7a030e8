//go:build !windows

package device

import "fmt"

// NewWebGPU reports that no WebGPU adapter is wired on this platform.
func NewWebGPU() (Driver, error) {
	return nil, fmt.Errorf("%w: webgpu is only available on windows builds", ErrNoDevice)
}
