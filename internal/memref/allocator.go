package memref

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/born-ml/memrt/internal/device"
	"github.com/born-ml/memrt/internal/lifetime"
	"github.com/born-ml/memrt/internal/parallel"
	"github.com/born-ml/memrt/internal/scalar"
)

// Allocator builds memrefs on the devices of one List and registers their
// storage with one Coordinator.
type Allocator struct {
	devices *device.List
	coord   *lifetime.Coordinator
	logger  *slog.Logger
	par     parallel.Config
}

// NewAllocator creates an allocator. A nil logger discards output.
func NewAllocator(devices *device.List, coord *lifetime.Coordinator, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Allocator{devices: devices, coord: coord, logger: logger, par: parallel.DefaultConfig()}
}

// SetParallel sets how bulk element passes over host buffers are split.
func (a *Allocator) SetParallel(cfg parallel.Config) { a.par = cfg }

// Parallel returns the current split of bulk element passes.
func (a *Allocator) Parallel() parallel.Config { return a.par }

// Devices returns the device table the allocator serves.
func (a *Allocator) Devices() *device.List { return a.devices }

// Coordinator returns the lifetime registry.
func (a *Allocator) Coordinator() *lifetime.Coordinator { return a.coord }

// resolve maps nil to the host and rejects devices from another table.
func (a *Allocator) resolve(dev *device.Device) (*device.Device, error) {
	if dev == nil {
		return a.devices.Host(), nil
	}
	if !a.devices.Contains(dev) {
		return nil, fmt.Errorf("%w: %s is not enumerated", device.ErrNoDevice, dev)
	}
	return dev, nil
}

func checkType(dtype scalar.Type) error {
	if !dtype.Valid() {
		return fmt.Errorf("%w: code %d", scalar.ErrUnsupportedType, int(dtype))
	}
	return nil
}

// Allocate creates a zero-filled row-major memref on dev (host if nil).
func (a *Allocator) Allocate(shape []int64, dtype scalar.Type, dev *device.Device) (*MemRef, error) {
	if err := checkType(dtype); err != nil {
		return nil, err
	}
	if err := ValidateShape(shape, dtype.ByteSize()); err != nil {
		return nil, err
	}
	d, err := a.resolve(dev)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllocation, err)
	}
	m, err := a.allocate(cloneDims(shape), dtype, d)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("memref allocated", "shape", formatDims(m.shape), "dtype", dtype.String(), "device", d.String(), "bytes", m.ByteSize())
	return m, nil
}

// allocate reserves zero-filled storage and registers it.
func (a *Allocator) allocate(shape []int64, dtype scalar.Type, d *device.Device) (*MemRef, error) {
	size := int(NumElements(shape)) * dtype.ByteSize()
	drv := d.Driver()

	ptr, err := drv.Alloc(size)
	if err != nil {
		return nil, fmt.Errorf("%w: %d bytes on %s: %w", ErrAllocation, size, d, err)
	}

	var finalize func() error
	if ptr != 0 {
		finalize = func() error {
			a.logger.Debug("memref freed", "addr", fmt.Sprintf("%#x", ptr), "device", d.String(), "bytes", size)
			return drv.Free(ptr)
		}
	}
	s := a.coord.Register(lifetime.Key{Device: d, Addr: ptr}, finalize)
	return newMemRef(s, shape, ComputeStrides(shape), dtype, d, ptr, Owned, a.logger), nil
}

// AllocateFromBuffer copies src into a new owned memref on dev (host if nil).
// A nil dtype is inferred from src.Format.
func (a *Allocator) AllocateFromBuffer(src HostBuffer, dtype *scalar.Type, dev *device.Device) (*MemRef, error) {
	t, shape, err := src.layout(dtype)
	if err != nil {
		return nil, err
	}
	d, err := a.resolve(dev)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllocation, err)
	}

	data := src.Data
	if t == scalar.I1 {
		data = canonicalBools(data, a.par)
	}

	m, err := a.allocate(shape, t, d)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := d.Driver().Upload(m.ptr, data); err != nil {
			_ = m.Release()
			return nil, fmt.Errorf("%w: upload to %s: %w", ErrAllocation, d, err)
		}
	}
	a.logger.Debug("memref copied from buffer", "shape", formatDims(m.shape), "dtype", t.String(), "device", d.String(), "bytes", len(data))
	return m, nil
}

// ViewFromPointer wraps memory owned elsewhere without copying. dev
// defaults to the host. A view over the address of a live storage on the
// same device joins that storage.
func (a *Allocator) ViewFromPointer(ptr uintptr, shape []int64, dtype scalar.Type, dev *device.Device, opts ...ViewOption) (*MemRef, error) {
	var o viewOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := checkType(dtype); err != nil {
		return nil, err
	}
	if err := ValidateShape(shape, dtype.ByteSize()); err != nil {
		return nil, err
	}
	if ptr == 0 && NumElements(shape) != 0 {
		return nil, fmt.Errorf("%w: null pointer for shape %s", ErrInvalidPointer, formatDims(shape))
	}
	d, err := a.resolve(dev)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPointer, err)
	}

	key := lifetime.Key{Device: d, Addr: ptr}
	s, shared := a.coord.Adopt(key)
	if !shared {
		s = a.coord.Register(key, nil)
	}
	s.Pin(o.owner)

	shape = cloneDims(shape)
	a.logger.Debug("memref view created", "addr", fmt.Sprintf("%#x", ptr), "shape", formatDims(shape), "dtype", dtype.String(), "device", d.String(), "shared", shared)
	return newMemRef(s, shape, ComputeStrides(shape), dtype, d, ptr, View, a.logger), nil
}

// ViewWithRelease wraps foreign memory whose owner must be told when the
// last reference drops. release runs exactly once. nil strides mean
// row-major. On error release is not called.
func (a *Allocator) ViewWithRelease(ptr uintptr, shape, strides []int64, dtype scalar.Type, dev *device.Device, release func() error) (*MemRef, error) {
	if err := checkType(dtype); err != nil {
		return nil, err
	}
	if err := ValidateShape(shape, dtype.ByteSize()); err != nil {
		return nil, err
	}
	if strides == nil {
		strides = ComputeStrides(shape)
	} else if err := ValidateLayout(shape, strides, dtype.ByteSize()); err != nil {
		return nil, err
	}
	if ptr == 0 && NumElements(shape) != 0 {
		return nil, fmt.Errorf("%w: null pointer for shape %s", ErrInvalidPointer, formatDims(shape))
	}
	d, err := a.resolve(dev)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPointer, err)
	}

	s := a.coord.Register(lifetime.Key{Device: d, Addr: ptr}, release)
	shape = cloneDims(shape)
	a.logger.Debug("memref imported", "addr", fmt.Sprintf("%#x", ptr), "shape", formatDims(shape), "dtype", dtype.String(), "device", d.String())
	return newMemRef(s, shape, cloneDims(strides), dtype, d, ptr, View, a.logger), nil
}

// ViewOption configures ViewFromPointer.
type ViewOption func(*viewOptions)

type viewOptions struct {
	owner any
}

// WithOwner keeps v reachable until the view's storage is finalised.
func WithOwner(v any) ViewOption {
	return func(o *viewOptions) { o.owner = v }
}
