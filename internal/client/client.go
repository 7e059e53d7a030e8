// Package client is the runtime facade: it enumerates memory spaces once
// and exposes memref construction and DLPack exchange over them.
package client

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/born-ml/memrt/internal/device"
	"github.com/born-ml/memrt/internal/dlpack"
	"github.com/born-ml/memrt/internal/lifetime"
	"github.com/born-ml/memrt/internal/memref"
	"github.com/born-ml/memrt/internal/scalar"
)

// ErrInvalidConfig is returned by New for unusable configurations.
var ErrInvalidConfig = errors.New("invalid client config")

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("client closed")

// Client owns a device table, a lifetime coordinator and an allocator.
// It is safe for concurrent use.
type Client struct {
	devices *device.List
	coord   *lifetime.Coordinator
	alloc   *memref.Allocator
	logger  *slog.Logger

	mu      sync.RWMutex
	closed  bool
	closers []func()
}

// New enumerates devices and builds a client.
func New(cfg Config) (*Client, error) {
	if cfg.EmulatedDevices < 0 {
		return nil, fmt.Errorf("%w: %d emulated devices", ErrInvalidConfig, cfg.EmulatedDevices)
	}
	if cfg.EmulatedCapacity < 0 {
		return nil, fmt.Errorf("%w: emulated capacity %d", ErrInvalidConfig, cfg.EmulatedCapacity)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := &Client{logger: logger}
	var accels []device.Driver

	if cfg.EnableWebGPU {
		drv, err := device.NewWebGPU()
		if err != nil {
			logger.Info("webgpu unavailable", "error", err)
		} else {
			accels = append(accels, drv)
			if r, ok := drv.(interface{ Release() }); ok {
				c.closers = append(c.closers, r.Release)
			}
		}
	}
	for i := 0; i < cfg.EmulatedDevices; i++ {
		accels = append(accels, device.NewEmulated(fmt.Sprintf("emulated%d", i), cfg.EmulatedCapacity))
	}
	for _, drv := range cfg.Drivers {
		if drv == nil {
			return nil, fmt.Errorf("%w: nil driver", ErrInvalidConfig)
		}
		accels = append(accels, drv)
	}

	c.devices = device.NewList(device.NewHost(), accels...)
	c.coord = lifetime.NewCoordinator(logger)
	c.alloc = memref.NewAllocator(c.devices, c.coord, logger)
	if cfg.Parallel != nil {
		c.alloc.SetParallel(*cfg.Parallel)
	}

	for _, d := range c.devices.Accelerators() {
		logger.Debug("device enumerated", "device", d.String(), "platform", d.Platform().String(), "id", d.ID())
	}
	return c, nil
}

// Devices returns the accelerators in enumeration order.
func (c *Client) Devices() []*device.Device { return c.devices.Accelerators() }

// Device returns the accelerator at index i.
func (c *Client) Device(i int) (*device.Device, error) { return c.devices.At(i) }

// Host returns the host memory space.
func (c *Client) Host() *device.Device { return c.devices.Host() }

// DeviceList returns the full device table.
func (c *Client) DeviceList() *device.List { return c.devices }

func (c *Client) check() error {
	if c.closed {
		return ErrClosed
	}
	return nil
}

// CreateMemRef allocates a zero-filled memref. WithDevice selects the memory space.
func (c *Client) CreateMemRef(shape []int64, dtype scalar.Type, opts ...Option) (*memref.MemRef, error) {
	o := collect(opts)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.alloc.Allocate(shape, dtype, o.device)
}

// CreateMemRefFromBuffer copies a host buffer into a new memref. Without
// WithDType the element type is inferred from the buffer's format.
func (c *Client) CreateMemRefFromBuffer(buf memref.HostBuffer, opts ...Option) (*memref.MemRef, error) {
	o := collect(opts)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.alloc.AllocateFromBuffer(buf, o.dtype, o.device)
}

// CreateHostMemRefView wraps host memory owned elsewhere.
func (c *Client) CreateHostMemRefView(ptr uintptr, shape []int64, dtype scalar.Type, opts ...Option) (*memref.MemRef, error) {
	return c.CreateDeviceMemRefView(ptr, shape, dtype, c.devices.Host(), opts...)
}

// CreateDeviceMemRefView wraps memory owned elsewhere on dev.
func (c *Client) CreateDeviceMemRefView(ptr uintptr, shape []int64, dtype scalar.Type, dev *device.Device, opts ...Option) (*memref.MemRef, error) {
	o := collect(opts)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.check(); err != nil {
		return nil, err
	}
	if dev == nil {
		return nil, fmt.Errorf("%w: %w: nil device", memref.ErrInvalidPointer, device.ErrNoDevice)
	}
	var vopts []memref.ViewOption
	if o.owner != nil {
		vopts = append(vopts, memref.WithOwner(o.owner))
	}
	return c.alloc.ViewFromPointer(ptr, shape, dtype, dev, vopts...)
}

// ToDLPack exports m as a capsule.
func (c *Client) ToDLPack(m *memref.MemRef) (*dlpack.Capsule, error) {
	capsule, err := dlpack.Export(m)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("memref exported", "storage", m.Storage().ID(), "refs", m.Storage().Refs(), "device", m.Device().String())
	return capsule, nil
}

// FromDLPack consumes a capsule into a view memref.
func (c *Client) FromDLPack(capsule *dlpack.Capsule) (*memref.MemRef, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.check(); err != nil {
		return nil, err
	}
	return dlpack.Import(capsule, c.alloc)
}

// LiveStorages returns the number of storages that still have holders.
func (c *Client) LiveStorages() int { return c.coord.Live() }

// Stats returns how many storages were registered and finalised.
func (c *Client) Stats() (registered, finalized uint64) { return c.coord.Stats() }

// Close stops accepting new memrefs. Driver resources are released once no
// storage is live, so memrefs and capsules still alive keep working until
// their last holder lets go.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if n := c.coord.Live(); n > 0 {
		c.logger.Warn("client closed with live storages; driver release deferred", "live", n)
	}
	closers := c.closers
	c.coord.WhenIdle(func() {
		for _, fn := range closers {
			fn()
		}
		c.logger.Debug("driver resources released", "drivers", len(closers))
	})
	return nil
}
