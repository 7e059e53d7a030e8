//go:build windows

package device

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"
)

// copyAlignment is the WebGPU COPY_BUFFER_ALIGNMENT.
const copyAlignment = 4

type webgpuBuffer struct {
	buffer *wgpu.Buffer
	size   uint64
}

// WebGPUDriver serves device memory of a WebGPU adapter.
// Addresses are buffer handles; they cannot be dereferenced by the host.
type WebGPUDriver struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	mu      sync.Mutex
	buffers map[uintptr]*webgpuBuffer
}

// NewWebGPU opens the default high-performance adapter.
// Returns ErrNoDevice if WebGPU is not available.
func NewWebGPU() (driver Driver, err error) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			driver = nil
			err = fmt.Errorf("%w: webgpu native library not available: %v", ErrNoDevice, r)
		}
	}()

	instance := wgpu.CreateInstance(nil)
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("%w: webgpu: failed to request adapter: %w", ErrNoDevice, err)
	}

	dev, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("%w: webgpu: failed to request device: %w", ErrNoDevice, err)
	}

	queue := dev.GetQueue()
	if queue == nil {
		dev.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("%w: webgpu: failed to get queue", ErrNoDevice)
	}

	return &WebGPUDriver{
		instance: instance,
		adapter:  adapter,
		device:   dev,
		queue:    queue,
		buffers:  make(map[uintptr]*webgpuBuffer),
	}, nil
}

// Kind implements Driver.
func (w *WebGPUDriver) Kind() Kind { return Accelerator }

// Platform implements Driver.
func (w *WebGPUDriver) Platform() Platform { return PlatformWebGPU }

// Name implements Driver.
func (w *WebGPUDriver) Name() string { return "webgpu" }

// Addressable implements Driver.
func (w *WebGPUDriver) Addressable() bool { return false }

// Alloc implements Driver.
func (w *WebGPUDriver) Alloc(size int) (ptr uintptr, err error) {
	if size == 0 {
		return 0, nil
	}
	defer func() {
		if r := recover(); r != nil {
			ptr = 0
			err = fmt.Errorf("%w: webgpu: %v", ErrOutOfMemory, r)
		}
	}()

	aligned := alignCopy(uint64(size))
	buffer := w.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  aligned,
	})
	if buffer == nil {
		return 0, fmt.Errorf("%w: webgpu: CreateBuffer(%d) failed", ErrOutOfMemory, aligned)
	}

	handle := uintptr(unsafe.Pointer(buffer))
	w.mu.Lock()
	w.buffers[handle] = &webgpuBuffer{buffer: buffer, size: aligned}
	w.mu.Unlock()
	return handle, nil
}

// Free implements Driver.
func (w *WebGPUDriver) Free(ptr uintptr) error {
	w.mu.Lock()
	b, ok := w.buffers[ptr]
	delete(w.buffers, ptr)
	w.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %#x", ErrUnknownPointer, ptr)
	}
	b.buffer.Release()
	return nil
}

func (w *WebGPUDriver) lookup(ptr uintptr) (*webgpuBuffer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.buffers[ptr]
	if !ok {
		return nil, fmt.Errorf("%w: %#x", ErrUnknownPointer, ptr)
	}
	return b, nil
}

// Upload implements Driver. The data goes through a mapped staging buffer.
func (w *WebGPUDriver) Upload(dst uintptr, src []byte) error {
	if len(src) == 0 {
		return nil
	}
	target, err := w.lookup(dst)
	if err != nil {
		return err
	}
	size := alignCopy(uint64(len(src)))
	if size > target.size {
		return fmt.Errorf("webgpu: upload of %d bytes exceeds buffer size %d", size, target.size)
	}

	staging := w.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageCopySrc,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	defer staging.Release()

	mappedPtr := staging.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), size)
	copy(mappedSlice, src)
	staging.Unmap()

	encoder := w.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(staging, 0, target.buffer, 0, size)
	cmdBuffer := encoder.Finish(nil)
	w.queue.Submit(cmdBuffer)
	return nil
}

// Download implements Driver. The data comes back through a MAP_READ staging buffer.
func (w *WebGPUDriver) Download(dst []byte, src uintptr) error {
	if len(dst) == 0 {
		return nil
	}
	source, err := w.lookup(src)
	if err != nil {
		return err
	}
	size := alignCopy(uint64(len(dst)))
	if size > source.size {
		return fmt.Errorf("webgpu: download of %d bytes exceeds buffer size %d", size, source.size)
	}

	staging := w.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer staging.Release()

	encoder := w.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(source.buffer, 0, staging, 0, size)
	cmdBuffer := encoder.Finish(nil)
	w.queue.Submit(cmdBuffer)

	if err := staging.MapAsync(w.device, wgpu.MapModeRead, 0, size); err != nil {
		return fmt.Errorf("webgpu: failed to map staging buffer: %w", err)
	}
	mappedPtr := staging.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), size)
	copy(dst, mappedSlice)
	staging.Unmap()
	return nil
}

// Release frees every outstanding buffer and the WebGPU objects.
func (w *WebGPUDriver) Release() {
	w.mu.Lock()
	for ptr, b := range w.buffers {
		b.buffer.Release()
		delete(w.buffers, ptr)
	}
	w.mu.Unlock()

	if w.queue != nil {
		w.queue.Release()
		w.queue = nil
	}
	if w.device != nil {
		w.device.Release()
		w.device = nil
	}
	if w.adapter != nil {
		w.adapter.Release()
		w.adapter = nil
	}
	if w.instance != nil {
		w.instance.Release()
		w.instance = nil
	}
}

func alignCopy(n uint64) uint64 {
	return (n + copyAlignment - 1) &^ (copyAlignment - 1)
}
