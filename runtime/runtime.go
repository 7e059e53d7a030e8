// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package runtime

import (
	"github.com/born-ml/memrt/internal/client"
	"github.com/born-ml/memrt/internal/device"
	"github.com/born-ml/memrt/internal/dlpack"
	"github.com/born-ml/memrt/internal/lifetime"
	"github.com/born-ml/memrt/internal/memref"
	"github.com/born-ml/memrt/internal/scalar"
)

// Client enumerates memory spaces and builds memrefs on them.
type Client = client.Client

// Config controls device enumeration and logging.
type Config = client.Config

// Option configures memref construction.
type Option = client.Option

// MemRef is a typed buffer descriptor.
type MemRef = memref.MemRef

// HostBuffer is a contiguous host array handed in for copying.
type HostBuffer = memref.HostBuffer

// Ownership tells Owned memrefs from Views.
type Ownership = memref.Ownership

// Ownership kinds.
const (
	Owned = memref.Owned
	View  = memref.View
)

// ScalarType is the element type of a memref.
type ScalarType = scalar.Type

// Scalar types.
const (
	I1   = scalar.I1
	I8   = scalar.I8
	I16  = scalar.I16
	I32  = scalar.I32
	I64  = scalar.I64
	UI8  = scalar.UI8
	F16  = scalar.F16
	BF16 = scalar.BF16
	F32  = scalar.F32
	F64  = scalar.F64
)

// BFloat16 is a brain-float element.
type BFloat16 = scalar.BFloat16

// Device is a memory space.
type Device = device.Device

// Driver allocates and moves bytes in one memory space.
type Driver = device.Driver

// Capsule hands one DLPack tensor to one consumer.
type Capsule = dlpack.Capsule

// ManagedTensor is a DLPack v1 DLManagedTensorVersioned.
type ManagedTensor = dlpack.ManagedTensor

// Errors.
var (
	ErrUnsupportedType     = scalar.ErrUnsupportedType
	ErrAllocation          = memref.ErrAllocation
	ErrInvalidPointer      = memref.ErrInvalidPointer
	ErrShapeMismatch       = memref.ErrShapeMismatch
	ErrUnsupportedExchange = dlpack.ErrUnsupportedExchange
	ErrCapsuleConsumed     = dlpack.ErrCapsuleConsumed
	ErrUseAfterFree        = lifetime.ErrUseAfterFree
	ErrOutOfMemory         = device.ErrOutOfMemory
	ErrNoDevice            = device.ErrNoDevice
	ErrNotAddressable      = device.ErrNotAddressable
	ErrClosed              = client.ErrClosed
	ErrInvalidConfig       = client.ErrInvalidConfig
)

// NewClient enumerates devices and builds a client.
func NewClient(cfg Config) (*Client, error) {
	return client.New(cfg)
}

// DefaultConfig returns one emulated accelerator and no WebGPU probing.
func DefaultConfig() Config {
	return client.DefaultConfig()
}

// WithDType sets the element type of a buffer copy.
func WithDType(t ScalarType) Option { return client.WithDType(t) }

// WithDevice selects the memory space of an allocation.
func WithDevice(d *Device) Option { return client.WithDevice(d) }

// WithOwner keeps v reachable for as long as a view is in use.
func WithOwner(v any) Option { return client.WithOwner(v) }

// ParseScalarType accepts "f32" or "ScalarTypeCode.f32".
func ParseScalarType(name string) (ScalarType, error) {
	return scalar.Parse(name)
}

// NewCapsule wraps a tensor produced outside this package.
func NewCapsule(mt *ManagedTensor) *Capsule {
	return dlpack.NewCapsule(mt)
}

// Element is the set of Go types that map onto a scalar type.
type Element = memref.Element

// BufferOf describes a Go slice as a host buffer without copying.
func BufferOf[T Element](s []T) HostBuffer {
	return memref.BufferOf(s)
}

// As views a host memref's elements as a []T without copying.
// Keep m reachable (runtime.KeepAlive) while the slice is in use.
func As[T Element](m *MemRef) ([]T, error) {
	return memref.As[T](m)
}
