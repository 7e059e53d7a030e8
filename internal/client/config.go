package client

import (
	"log/slog"

	"github.com/born-ml/memrt/internal/device"
	"github.com/born-ml/memrt/internal/parallel"
)

// Config controls which memory spaces a client enumerates.
type Config struct {
	Logger           *slog.Logger     // Debug logging of allocations and exchanges. nil discards.
	EmulatedDevices  int              // Number of emulated accelerators.
	EmulatedCapacity int64            // Byte capacity of each emulated accelerator.
	EnableWebGPU     bool             // Probe for a WebGPU adapter.
	Drivers          []device.Driver  // Extra accelerator drivers, enumerated last.
	Parallel         *parallel.Config // Splitting of bulk host-buffer passes. nil uses parallel.DefaultConfig.
}

// DefaultConfig returns one emulated accelerator and no WebGPU probing.
func DefaultConfig() Config {
	return Config{
		EmulatedDevices:  1,
		EmulatedCapacity: device.DefaultEmulatedCapacity,
	}
}
