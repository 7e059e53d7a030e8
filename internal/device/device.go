// Package device models the memory spaces a memref can live in.
//
// A Device is an opaque, immutable handle. It carries its memory kind
// (host or accelerator), its DLPack platform code and the Driver that
// allocates and moves bytes in that space. Devices are enumerated once
// into a List and compared by identity.
package device

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrOutOfMemory    = errors.New("device out of memory")
	ErrNoDevice       = errors.New("no such device")
	ErrUnknownPointer = errors.New("pointer not allocated by this driver")
	ErrNotAddressable = errors.New("device memory is not host addressable")
)

// Kind is the memory-space family of a device.
type Kind int

// Memory-space kinds.
const (
	Host Kind = iota
	Accelerator
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case Host:
		return "host"
	case Accelerator:
		return "accelerator"
	default:
		return "unknown"
	}
}

// Platform is the DLPack DLDeviceType code of a memory space.
type Platform int32

// DLPack device types.
const (
	PlatformCPU         Platform = 1
	PlatformCUDA        Platform = 2
	PlatformCUDAHost    Platform = 3
	PlatformOpenCL      Platform = 4
	PlatformVulkan      Platform = 7
	PlatformMetal       Platform = 8
	PlatformVPI         Platform = 9
	PlatformROCM        Platform = 10
	PlatformROCMHost    Platform = 11
	PlatformExtDev      Platform = 12
	PlatformCUDAManaged Platform = 13
	PlatformOneAPI      Platform = 14
	PlatformWebGPU      Platform = 15
	PlatformHexagon     Platform = 16
	PlatformMAIA        Platform = 17
)

// String returns the DLPack name of the platform.
func (p Platform) String() string {
	switch p {
	case PlatformCPU:
		return "kDLCPU"
	case PlatformCUDA:
		return "kDLCUDA"
	case PlatformCUDAHost:
		return "kDLCUDAHost"
	case PlatformOpenCL:
		return "kDLOpenCL"
	case PlatformVulkan:
		return "kDLVulkan"
	case PlatformMetal:
		return "kDLMetal"
	case PlatformVPI:
		return "kDLVPI"
	case PlatformROCM:
		return "kDLROCM"
	case PlatformROCMHost:
		return "kDLROCMHost"
	case PlatformExtDev:
		return "kDLExtDev"
	case PlatformCUDAManaged:
		return "kDLCUDAManaged"
	case PlatformOneAPI:
		return "kDLOneAPI"
	case PlatformWebGPU:
		return "kDLWebGPU"
	case PlatformHexagon:
		return "kDLHexagon"
	case PlatformMAIA:
		return "kDLMAIA"
	default:
		return fmt.Sprintf("kDLUnknown(%d)", int32(p))
	}
}

// Driver allocates and moves bytes in one memory space.
//
// Addresses are opaque uintptr handles. For host-addressable drivers they
// are real virtual addresses; otherwise they only mean something to the
// driver that produced them. Alloc of zero bytes returns 0 and needs no Free.
type Driver interface {
	Kind() Kind
	Platform() Platform
	Name() string
	// Addressable reports whether addresses can be dereferenced by the host.
	Addressable() bool
	Alloc(size int) (uintptr, error)
	Free(ptr uintptr) error
	// Upload copies src into device memory starting at dst.
	Upload(dst uintptr, src []byte) error
	// Download copies len(dst) bytes of device memory starting at src.
	Download(dst []byte, src uintptr) error
}

// Device is an enumerated memory space.
type Device struct {
	index  int
	id     int32
	driver Driver
}

// Index returns the position of the device in its List; -1 for the host.
func (d *Device) Index() int { return d.index }

// ID returns the DLPack device_id: the ordinal among devices of the same platform.
func (d *Device) ID() int32 { return d.id }

// Kind returns the memory-space kind.
func (d *Device) Kind() Kind { return d.driver.Kind() }

// Platform returns the DLPack device type.
func (d *Device) Platform() Platform { return d.driver.Platform() }

// Name returns the driver name.
func (d *Device) Name() string { return d.driver.Name() }

// Driver returns the driver serving this device's memory.
func (d *Device) Driver() Driver { return d.driver }

// IsHost reports whether this is host memory.
func (d *Device) IsHost() bool { return d.driver.Kind() == Host }

// String returns a short description, e.g. "accelerator:0(emulated)".
func (d *Device) String() string {
	if d.IsHost() {
		return "host"
	}
	return fmt.Sprintf("%s:%d(%s)", d.Kind(), d.index, d.Name())
}
