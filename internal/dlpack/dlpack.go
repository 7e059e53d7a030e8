// Package dlpack exchanges memrefs with foreign array libraries through
// DLPack v1.0 managed tensors wrapped in single-use capsules.
//
// Export never copies: the capsule's tensor points at the memref's data and
// holds one reference on its storage until the consumer calls Delete.
// Import wraps a capsule's tensor in a View memref whose storage calls the
// producer's deleter once, when its last reference drops.
package dlpack

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/born-ml/memrt/internal/device"
	"github.com/born-ml/memrt/internal/lifetime"
	"github.com/born-ml/memrt/internal/memref"
	"github.com/born-ml/memrt/internal/scalar"
)

// Common errors.
var (
	// ErrUnsupportedExchange is returned for dtypes or devices that cannot cross the boundary.
	ErrUnsupportedExchange = errors.New("unsupported exchange")

	// ErrCapsuleConsumed is returned when a capsule is consumed a second time.
	ErrCapsuleConsumed = errors.New("capsule already consumed")
)

// Protocol version produced and accepted.
const (
	MajorVersion = 1
	MinorVersion = 0
)

// DLDataTypeCode values.
const (
	KDLInt    uint8 = 0
	KDLUInt   uint8 = 1
	KDLFloat  uint8 = 2
	KDLBfloat uint8 = 4
	KDLBool   uint8 = 6
)

// Flag bits of ManagedTensor.Flags.
const (
	FlagReadOnly uint64 = 1 << 0
	FlagIsCopied uint64 = 1 << 1
)

// Version is DLPackVersion.
type Version struct {
	Major uint32
	Minor uint32
}

// Device is DLDevice.
type Device struct {
	DeviceType int32
	DeviceID   int32
}

// DataType is DLDataType.
type DataType struct {
	Code  uint8
	Bits  uint8
	Lanes uint16
}

// String renders the type as code/bits/lanes.
func (d DataType) String() string {
	return fmt.Sprintf("{code=%d bits=%d lanes=%d}", d.Code, d.Bits, d.Lanes)
}

// Tensor is DLTensor. Shape and Strides point at NDim int64 values;
// Strides may be nil for a row-major layout.
type Tensor struct {
	Data       uintptr
	Device     Device
	NDim       int32
	DType      DataType
	Shape      *int64
	Strides    *int64
	ByteOffset uint64
}

// DataTypeOf returns the DLPack encoding of t. i1 travels as one-byte kDLBool.
func DataTypeOf(t scalar.Type) (DataType, error) {
	if !t.Valid() {
		return DataType{}, fmt.Errorf("%w: scalar code %d", ErrUnsupportedExchange, int(t))
	}
	bits := uint8(t.ByteSize() * 8)
	switch t.Class() {
	case scalar.Bool:
		return DataType{Code: KDLBool, Bits: 8, Lanes: 1}, nil
	case scalar.Signed:
		return DataType{Code: KDLInt, Bits: bits, Lanes: 1}, nil
	case scalar.Unsigned:
		return DataType{Code: KDLUInt, Bits: bits, Lanes: 1}, nil
	default:
		if t == scalar.BF16 {
			return DataType{Code: KDLBfloat, Bits: 16, Lanes: 1}, nil
		}
		return DataType{Code: KDLFloat, Bits: bits, Lanes: 1}, nil
	}
}

// ScalarOf maps a DLPack dtype back onto the closed scalar set.
func ScalarOf(d DataType) (scalar.Type, error) {
	if d.Lanes != 1 {
		return 0, fmt.Errorf("%w: dtype %s has %d lanes", ErrUnsupportedExchange, d, d.Lanes)
	}
	switch {
	case d.Code == KDLBool && d.Bits == 8:
		return scalar.I1, nil
	case d.Code == KDLInt && d.Bits == 8:
		return scalar.I8, nil
	case d.Code == KDLInt && d.Bits == 16:
		return scalar.I16, nil
	case d.Code == KDLInt && d.Bits == 32:
		return scalar.I32, nil
	case d.Code == KDLInt && d.Bits == 64:
		return scalar.I64, nil
	case d.Code == KDLUInt && d.Bits == 8:
		return scalar.UI8, nil
	case d.Code == KDLFloat && d.Bits == 16:
		return scalar.F16, nil
	case d.Code == KDLBfloat && d.Bits == 16:
		return scalar.BF16, nil
	case d.Code == KDLFloat && d.Bits == 32:
		return scalar.F32, nil
	case d.Code == KDLFloat && d.Bits == 64:
		return scalar.F64, nil
	default:
		return 0, fmt.Errorf("%w: dtype %s", ErrUnsupportedExchange, d)
	}
}

// ManagedTensor is DLManagedTensorVersioned. The deleter is held privately
// and reached through Delete.
type ManagedTensor struct {
	Version Version
	Flags   uint64
	Tensor  Tensor

	shape   []int64
	strides []int64
	deleter func() error
	deleted atomic.Bool
}

// NewManagedTensor builds a versioned tensor over data. nil strides mean
// row-major. deleter may be nil; it runs on the first Delete.
func NewManagedTensor(data uintptr, dev Device, dtype DataType, shape, strides []int64, deleter func() error) *ManagedTensor {
	mt := &ManagedTensor{
		Version: Version{Major: MajorVersion, Minor: MinorVersion},
		shape:   append([]int64(nil), shape...),
		deleter: deleter,
	}
	if strides != nil {
		mt.strides = append([]int64(nil), strides...)
	}
	mt.Tensor = Tensor{
		Data:   data,
		Device: dev,
		NDim:   int32(len(shape)), //nolint:gosec // G115: rank is tiny.
		DType:  dtype,
	}
	if len(mt.shape) > 0 {
		mt.Tensor.Shape = &mt.shape[0]
	}
	if len(mt.strides) > 0 {
		mt.Tensor.Strides = &mt.strides[0]
	}
	return mt
}

// Delete runs the producer's deleter. Only the first call does anything;
// later calls fail with lifetime.ErrUseAfterFree.
func (mt *ManagedTensor) Delete() error {
	if !mt.deleted.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: managed tensor deleted twice", lifetime.ErrUseAfterFree)
	}
	if mt.deleter == nil {
		return nil
	}
	return mt.deleter()
}

// Deleted reports whether Delete has run.
func (mt *ManagedTensor) Deleted() bool { return mt.deleted.Load() }

// ShapeSlice returns the dimensions as a slice.
func (mt *ManagedTensor) ShapeSlice() []int64 {
	if mt.Tensor.NDim <= 0 || mt.Tensor.Shape == nil {
		return []int64{}
	}
	return append([]int64(nil), unsafe.Slice(mt.Tensor.Shape, mt.Tensor.NDim)...)
}

// StridesSlice returns the strides, or nil when the tensor carries none.
func (mt *ManagedTensor) StridesSlice() []int64 {
	if mt.Tensor.Strides == nil {
		return nil
	}
	return append([]int64(nil), unsafe.Slice(mt.Tensor.Strides, mt.Tensor.NDim)...)
}

// HostBytes returns the bytes spanned by a CPU tensor without copying.
func (mt *ManagedTensor) HostBytes() ([]byte, error) {
	if mt.Deleted() {
		return nil, fmt.Errorf("%w: managed tensor already deleted", lifetime.ErrUseAfterFree)
	}
	if device.Platform(mt.Tensor.Device.DeviceType) != device.PlatformCPU {
		return nil, fmt.Errorf("%w: %s", device.ErrNotAddressable, device.Platform(mt.Tensor.Device.DeviceType))
	}
	t, err := ScalarOf(mt.Tensor.DType)
	if err != nil {
		return nil, err
	}
	shape := mt.ShapeSlice()
	strides := mt.StridesSlice()
	if strides == nil {
		strides = memref.ComputeStrides(shape)
	}
	n := int(memref.SpanElements(shape, strides)) * t.ByteSize()
	if n == 0 {
		return []byte{}, nil
	}
	return device.HostBytes(mt.Tensor.Data+uintptr(mt.Tensor.ByteOffset), n), nil
}
