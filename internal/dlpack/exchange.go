package dlpack

import (
	"fmt"

	"github.com/born-ml/memrt/internal/device"
	"github.com/born-ml/memrt/internal/lifetime"
	"github.com/born-ml/memrt/internal/memref"
)

// Export publishes m as a capsule. Every call retains m's storage once;
// the consumer's Delete, or closing the unconsumed capsule, gives it back.
func Export(m *memref.MemRef) (*Capsule, error) {
	if m.Released() {
		return nil, fmt.Errorf("export: %w: memref already released", lifetime.ErrUseAfterFree)
	}
	dtype, err := DataTypeOf(m.DType())
	if err != nil {
		return nil, err
	}
	dev := m.Device()

	s := m.Storage()
	if err := s.Retain(); err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	mt := NewManagedTensor(
		m.Ptr(),
		Device{DeviceType: int32(dev.Platform()), DeviceID: dev.ID()},
		dtype,
		m.Shape(),
		m.Strides(),
		s.Release,
	)
	return NewCapsule(mt), nil
}

// Import consumes c and wraps its tensor in a View memref served by alloc.
// The tensor's deleter runs once, when the last reference to the view's
// storage drops. On any validation error the capsule is left unconsumed.
func Import(c *Capsule, alloc *memref.Allocator) (*memref.MemRef, error) {
	mt, err := c.Peek()
	if err != nil {
		return nil, err
	}
	t := &mt.Tensor

	if mt.Version.Major != MajorVersion {
		return nil, fmt.Errorf("%w: DLPack version %d.%d", ErrUnsupportedExchange, mt.Version.Major, mt.Version.Minor)
	}
	dtype, err := ScalarOf(t.DType)
	if err != nil {
		return nil, err
	}
	dev, ok := alloc.Devices().Lookup(device.Platform(t.Device.DeviceType), t.Device.DeviceID)
	if !ok {
		return nil, fmt.Errorf("%w: device %s:%d is not enumerated", ErrUnsupportedExchange, device.Platform(t.Device.DeviceType), t.Device.DeviceID)
	}
	if t.NDim < 0 {
		return nil, fmt.Errorf("%w: ndim %d", ErrUnsupportedExchange, t.NDim)
	}
	if t.ByteOffset != 0 && !dev.Driver().Addressable() {
		return nil, fmt.Errorf("%w: byte offset on %s", ErrUnsupportedExchange, dev)
	}

	shape := mt.ShapeSlice()
	strides := mt.StridesSlice()
	if err := memref.ValidateShape(shape, dtype.ByteSize()); err != nil {
		return nil, err
	}
	if strides != nil {
		if err := memref.ValidateLayout(shape, strides, dtype.ByteSize()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnsupportedExchange, err)
		}
	}
	if t.Data == 0 && memref.NumElements(shape) != 0 {
		return nil, fmt.Errorf("%w: null data for shape %v", memref.ErrInvalidPointer, shape)
	}

	if _, err := c.Consume(); err != nil {
		return nil, err
	}
	ptr := t.Data + uintptr(t.ByteOffset)
	m, err := alloc.ViewWithRelease(ptr, shape, strides, dtype, dev, mt.Delete)
	if err != nil {
		// The tensor is ours now; hand it back to its producer.
		if derr := mt.Delete(); derr != nil {
			return nil, fmt.Errorf("%w (and delete failed: %w)", err, derr)
		}
		return nil, err
	}
	return m, nil
}
