package memref

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/born-ml/memrt/internal/device"
	"github.com/born-ml/memrt/internal/lifetime"
	"github.com/born-ml/memrt/internal/parallel"
	"github.com/born-ml/memrt/internal/scalar"
)

type fixture struct {
	alloc *Allocator
	host  *device.HostDriver
	emu   *device.EmulatedDriver
	accel *device.Device
}

func newFixture(t *testing.T, capacity int64) *fixture {
	t.Helper()
	host := device.NewHost()
	emu := device.NewEmulated("emu", capacity)
	list := device.NewList(host, emu)
	accel, err := list.At(0)
	require.NoError(t, err)
	return &fixture{
		alloc: NewAllocator(list, lifetime.NewCoordinator(nil), nil),
		host:  host,
		emu:   emu,
		accel: accel,
	}
}

func TestAllocate(t *testing.T) {
	tests := []struct {
		name    string
		shape   []int64
		dtype   scalar.Type
		strides []int64
		count   int64
		bytes   int64
	}{
		{"scalar", []int64{}, scalar.F32, []int64{}, 1, 4},
		{"vector", []int64{3}, scalar.F32, []int64{1}, 3, 12},
		{"3d", []int64{1, 2, 3}, scalar.F64, []int64{6, 3, 1}, 6, 48},
		{"bool", []int64{5}, scalar.I1, []int64{1}, 5, 5},
		{"bf16", []int64{2, 2}, scalar.BF16, []int64{2, 1}, 4, 8},
		{"empty", []int64{3, 0}, scalar.I64, []int64{0, 1}, 0, 0},
		{"scalar i8", []int64{}, scalar.I8, []int64{}, 1, 1},
		{"zero dim", []int64{1, 2, 0}, scalar.F32, []int64{0, 0, 1}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0)
			for _, dev := range []*device.Device{nil, f.accel} {
				m, err := f.alloc.Allocate(tt.shape, tt.dtype, dev)
				require.NoError(t, err)

				assert.Equal(t, tt.shape, m.Shape())
				assert.Equal(t, tt.strides, m.Strides())
				assert.Equal(t, tt.dtype, m.DType())
				assert.Equal(t, tt.count, m.NumElements())
				assert.Equal(t, tt.bytes, m.ByteSize())
				assert.Equal(t, Owned, m.Ownership())
				assert.Equal(t, dev == nil, m.IsHost())
				assert.True(t, m.IsRowMajor())
				if tt.count == 0 {
					assert.Zero(t, m.Ptr())
				} else {
					assert.NotZero(t, m.Ptr())
				}

				data, err := m.CopyToHost()
				require.NoError(t, err)
				assert.Equal(t, make([]byte, tt.bytes), data, "fresh memory is zeroed")
				require.NoError(t, m.Release())
			}
			assert.Zero(t, f.host.Live())
			assert.Zero(t, f.emu.Live())
			assert.Zero(t, f.alloc.Coordinator().Live())
		})
	}
}

func TestAllocateErrors(t *testing.T) {
	f := newFixture(t, 16)

	_, err := f.alloc.Allocate([]int64{2, -3}, scalar.F32, nil)
	require.ErrorIs(t, err, ErrShapeMismatch)

	_, err = f.alloc.Allocate([]int64{2}, scalar.Type(42), nil)
	require.ErrorIs(t, err, scalar.ErrUnsupportedType)

	_, err = f.alloc.Allocate([]int64{5}, scalar.F32, f.accel)
	require.ErrorIs(t, err, ErrAllocation)
	require.ErrorIs(t, err, device.ErrOutOfMemory)

	other := device.NewList(device.NewHost(), device.NewEmulated("other", 0))
	foreign, err := other.At(0)
	require.NoError(t, err)
	_, err = f.alloc.Allocate([]int64{1}, scalar.F32, foreign)
	require.ErrorIs(t, err, ErrAllocation)
	require.ErrorIs(t, err, device.ErrNoDevice)

	assert.Zero(t, f.alloc.Coordinator().Live(), "failed construction leaves nothing registered")
	assert.Zero(t, f.emu.InUse())
}

func TestString(t *testing.T) {
	f := newFixture(t, 0)
	m, err := f.alloc.Allocate([]int64{3}, scalar.F32, nil)
	require.NoError(t, err)
	defer m.Release()
	assert.Equal(t, "MemRefValue shape=[3] dtype=ScalarTypeCode.f32 strides=[1]", m.String())

	s, err := f.alloc.Allocate([]int64{}, scalar.I1, nil)
	require.NoError(t, err)
	defer s.Release()
	assert.Equal(t, "MemRefValue shape=[] dtype=ScalarTypeCode.i1 strides=[]", s.String())

	g, err := f.alloc.Allocate([]int64{2, 3}, scalar.BF16, f.accel)
	require.NoError(t, err)
	defer g.Release()
	assert.Equal(t, "MemRefValue shape=[2, 3] dtype=ScalarTypeCode.bf16 strides=[3, 1]", g.String())
}

func TestReleaseTwice(t *testing.T) {
	f := newFixture(t, 0)
	m, err := f.alloc.Allocate([]int64{4}, scalar.I32, nil)
	require.NoError(t, err)
	require.NoError(t, m.Release())
	assert.True(t, m.Released())
	assert.Zero(t, f.host.Live())

	require.ErrorIs(t, m.Release(), lifetime.ErrUseAfterFree)
	_, err = m.Bytes()
	require.ErrorIs(t, err, lifetime.ErrUseAfterFree)
	_, err = m.Clone()
	require.ErrorIs(t, err, lifetime.ErrUseAfterFree)
}

func TestCloneSharesStorage(t *testing.T) {
	f := newFixture(t, 0)
	m, err := f.alloc.AllocateFromBuffer(BufferOf([]int32{7, 8, 9}), nil, nil)
	require.NoError(t, err)

	c, err := m.Clone()
	require.NoError(t, err)
	assert.Same(t, m.Storage(), c.Storage())
	assert.Equal(t, int64(2), m.Storage().Refs())

	require.NoError(t, m.Release())
	assert.Equal(t, 1, f.host.Live())

	got, err := As[int32](c)
	require.NoError(t, err)
	assert.Equal(t, []int32{7, 8, 9}, got)

	require.NoError(t, c.Release())
	assert.Zero(t, f.host.Live())
}

func TestAllocateFromBuffer(t *testing.T) {
	f := newFixture(t, 0)

	m, err := f.alloc.AllocateFromBuffer(BufferOf([]float32{5, 4, 2}), nil, nil)
	require.NoError(t, err)
	defer m.Release()

	assert.Equal(t, "MemRefValue shape=[3] dtype=ScalarTypeCode.f32 strides=[1]", m.String())
	got, err := As[float32](m)
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 4, 2}, got)
}

func TestAllocateFromBufferInfersType(t *testing.T) {
	f := newFixture(t, 0)
	tests := []struct {
		buf  HostBuffer
		want scalar.Type
	}{
		{BufferOf([]bool{true, false}), scalar.I1},
		{BufferOf([]int8{-1, 2}), scalar.I8},
		{BufferOf([]uint8{1, 255}), scalar.UI8},
		{BufferOf([]int16{-300, 300}), scalar.I16},
		{BufferOf([]int32{1 << 20, 3}), scalar.I32},
		{BufferOf([]int64{1 << 40, 5}), scalar.I64},
		{BufferOf([]float16.Float16{float16.Fromfloat32(1.5), float16.Fromfloat32(-2)}), scalar.F16},
		{BufferOf([]float32{1.5, -2}), scalar.F32},
		{BufferOf([]float64{1.5, -2}), scalar.F64},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			for _, dev := range []*device.Device{nil, f.accel} {
				m, err := f.alloc.AllocateFromBuffer(tt.buf, nil, dev)
				require.NoError(t, err)
				assert.Equal(t, tt.want, m.DType())
				assert.Equal(t, []int64{2}, m.Shape())

				data, err := m.CopyToHost()
				require.NoError(t, err)
				assert.Equal(t, tt.buf.Data, data)
				require.NoError(t, m.Release())
			}
		})
	}
}

func TestAllocateFromBufferExplicitType(t *testing.T) {
	f := newFixture(t, 0)

	// bf16 has no format letter and needs an explicit dtype.
	bf := []scalar.BFloat16{scalar.BFloat16FromFloat32(1), scalar.BFloat16FromFloat32(-0.5)}
	_, err := f.alloc.AllocateFromBuffer(BufferOf(bf), nil, nil)
	require.ErrorIs(t, err, scalar.ErrUnsupportedType)

	dt := scalar.BF16
	m, err := f.alloc.AllocateFromBuffer(BufferOf(bf), &dt, nil)
	require.NoError(t, err)
	got, err := As[scalar.BFloat16](m)
	require.NoError(t, err)
	assert.Equal(t, bf, got)
	require.NoError(t, m.Release())

	// Same item size reinterprets the bytes.
	dt = scalar.F32
	m, err = f.alloc.AllocateFromBuffer(BufferOf([]int32{0x3f800000}), &dt, nil)
	require.NoError(t, err)
	gotF, err := As[float32](m)
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, gotF)
	require.NoError(t, m.Release())

	dt = scalar.I64
	_, err = f.alloc.AllocateFromBuffer(BufferOf([]int32{1, 2}), &dt, nil)
	require.ErrorIs(t, err, ErrShapeMismatch)

	// The format letter declares the element size even without ItemSize.
	f32 := BufferOf([]float32{5, 4, 2})
	f32.ItemSize = 0
	dt = scalar.I8
	_, err = f.alloc.AllocateFromBuffer(f32, &dt, nil)
	require.ErrorIs(t, err, ErrShapeMismatch)

	// ItemSize and format letter must agree.
	f32.ItemSize = 2
	dt = scalar.F16
	_, err = f.alloc.AllocateFromBuffer(f32, &dt, nil)
	require.ErrorIs(t, err, ErrShapeMismatch)

	// Packed bools may be read as int8.
	dt = scalar.I8
	m, err = f.alloc.AllocateFromBuffer(HostBuffer{Data: []byte{1, 0, 1}, Format: "?"}, &dt, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, m.Shape())
	require.NoError(t, m.Release())
	assert.Zero(t, f.host.Live())
}

func TestAllocateFromBufferCanonicalBools(t *testing.T) {
	f := newFixture(t, 0)
	m, err := f.alloc.AllocateFromBuffer(HostBuffer{Data: []byte{0, 2, 255, 1}, Format: "?", ItemSize: 1}, nil, nil)
	require.NoError(t, err)
	defer m.Release()

	b, err := m.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 1, 1}, b)

	got, err := As[bool](m)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, true, true}, got)
}

func TestAllocateFromBufferShapes(t *testing.T) {
	f := newFixture(t, 0)
	data := BufferOf([]int16{1, 2, 3, 4, 5, 6}).Data

	m, err := f.alloc.AllocateFromBuffer(HostBuffer{Data: data, Format: "=h", ItemSize: 2, Shape: []int64{2, 3}}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1}, m.Strides())
	require.NoError(t, m.Release())

	_, err = f.alloc.AllocateFromBuffer(HostBuffer{Data: data, Format: "h", ItemSize: 2, Shape: []int64{4, 2}}, nil, nil)
	require.ErrorIs(t, err, ErrShapeMismatch)

	_, err = f.alloc.AllocateFromBuffer(HostBuffer{Data: data[:5], Format: "h", ItemSize: 2}, nil, nil)
	require.ErrorIs(t, err, ErrShapeMismatch)

	_, err = f.alloc.AllocateFromBuffer(HostBuffer{Data: data, Format: "q", ItemSize: 4}, nil, nil)
	require.ErrorIs(t, err, ErrShapeMismatch)

	_, err = f.alloc.AllocateFromBuffer(HostBuffer{Data: data, Format: "l", ItemSize: 4}, nil, nil)
	require.ErrorIs(t, err, scalar.ErrUnsupportedType)

	// A scalar from a single element.
	s, err := f.alloc.AllocateFromBuffer(HostBuffer{Data: data[:2], Format: "h", Shape: []int64{}}, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, s.Shape())
	require.NoError(t, s.Release())

	e, err := f.alloc.AllocateFromBuffer(BufferOf([]float64{}), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{0}, e.Shape())
	assert.Zero(t, e.Ptr())
	require.NoError(t, e.Release())

	assert.Zero(t, f.alloc.Coordinator().Live())
}

func TestAllocateFromBufferCopies(t *testing.T) {
	f := newFixture(t, 0)
	src := []float64{1, 2, 3}
	m, err := f.alloc.AllocateFromBuffer(BufferOf(src), nil, nil)
	require.NoError(t, err)
	defer m.Release()

	src[0] = 100
	got, err := As[float64](m)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, got)
}

func TestAllocateFromBufferOutOfMemory(t *testing.T) {
	f := newFixture(t, 8)
	_, err := f.alloc.AllocateFromBuffer(BufferOf([]float32{1, 2, 3}), nil, f.accel)
	require.ErrorIs(t, err, ErrAllocation)
	assert.Zero(t, f.alloc.Coordinator().Live())
}

func TestAsChecks(t *testing.T) {
	f := newFixture(t, 0)
	m, err := f.alloc.Allocate([]int64{2}, scalar.F32, nil)
	require.NoError(t, err)

	_, err = As[float64](m)
	require.ErrorIs(t, err, scalar.ErrUnsupportedType)

	got, err := As[float32](m)
	require.NoError(t, err)
	got[1] = 3
	b, err := m.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0x40, 0x40}, b, "As writes through to the storage")

	require.NoError(t, m.Release())
	_, err = As[float32](m)
	require.ErrorIs(t, err, lifetime.ErrUseAfterFree)
}

func TestViewOverOwnedStorage(t *testing.T) {
	f := newFixture(t, 0)
	m, err := f.alloc.AllocateFromBuffer(BufferOf([]float32{1, 2, 3, 4}), nil, f.accel)
	require.NoError(t, err)

	v, err := f.alloc.ViewFromPointer(m.Ptr(), []int64{2, 2}, scalar.F32, f.accel)
	require.NoError(t, err)
	assert.Equal(t, View, v.Ownership())
	assert.Same(t, m.Storage(), v.Storage(), "same device and address share identity")

	require.NoError(t, m.Release())
	assert.Equal(t, 1, f.emu.Live(), "view keeps the allocation alive")

	got, err := As[float32](v)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, got)

	require.NoError(t, v.Release())
	assert.Zero(t, f.emu.Live())
}

func TestViewOfGoMemory(t *testing.T) {
	f := newFixture(t, 0)
	src := []int64{10, 20, 30}
	ptr := uintptr(unsafe.Pointer(&src[0]))

	v, err := f.alloc.ViewFromPointer(ptr, []int64{3}, scalar.I64, nil, WithOwner(src))
	require.NoError(t, err)
	assert.Equal(t, ptr, v.Ptr())
	assert.True(t, v.IsHost())

	src[2] = 31
	got, err := As[int64](v)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20, 31}, got, "views do not copy")

	require.NoError(t, v.Release())
	assert.Zero(t, f.host.Live(), "views never free")
	runtime.KeepAlive(src)
}

func TestViewInvalidPointer(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.alloc.ViewFromPointer(0, []int64{3}, scalar.F32, nil)
	require.ErrorIs(t, err, ErrInvalidPointer)

	v, err := f.alloc.ViewFromPointer(0, []int64{0}, scalar.F32, nil)
	require.NoError(t, err, "null is fine when there is nothing to point at")
	require.NoError(t, v.Release())

	_, err = f.alloc.ViewFromPointer(0x1000, []int64{-1}, scalar.F32, nil)
	require.ErrorIs(t, err, ErrShapeMismatch)

	other := device.NewList(device.NewHost())
	_, err = f.alloc.ViewFromPointer(0x1000, []int64{1}, scalar.F32, other.Host())
	require.ErrorIs(t, err, ErrInvalidPointer)
	assert.Zero(t, f.alloc.Coordinator().Live())
}

func TestViewWithRelease(t *testing.T) {
	f := newFixture(t, 0)
	backing := []float32{1, 2, 3, 4, 5, 6}
	ptr := uintptr(unsafe.Pointer(&backing[0]))

	var calls atomic.Int32
	release := func() error { calls.Add(1); return nil }

	// Column-major 2x3.
	v, err := f.alloc.ViewWithRelease(ptr, []int64{2, 3}, []int64{1, 2}, scalar.F32, nil, release)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, v.Strides())
	assert.False(t, v.IsRowMajor())
	assert.Equal(t, int64(24), v.ByteSize())
	_, err = As[float32](v)
	require.ErrorIs(t, err, ErrShapeMismatch)

	c, err := v.Clone()
	require.NoError(t, err)
	require.NoError(t, v.Release())
	assert.Zero(t, calls.Load())
	require.NoError(t, c.Release())
	assert.Equal(t, int32(1), calls.Load())

	_, err = f.alloc.ViewWithRelease(ptr, []int64{2, 3}, []int64{1}, scalar.F32, nil, release)
	require.ErrorIs(t, err, ErrShapeMismatch)
	_, err = f.alloc.ViewWithRelease(ptr, []int64{2}, []int64{-1}, scalar.F32, nil, release)
	require.ErrorIs(t, err, ErrShapeMismatch)
	assert.Equal(t, int32(1), calls.Load(), "failed construction does not release")
	runtime.KeepAlive(backing)
}

func TestDroppedMemRefIsReleased(t *testing.T) {
	f := newFixture(t, 0)
	func() {
		m, err := f.alloc.Allocate([]int64{1024}, scalar.F32, nil)
		require.NoError(t, err)
		require.NotZero(t, m.Ptr())
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return f.host.Live() == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Zero(t, f.alloc.Coordinator().Live())
}

func TestHostSliceKeptAliveByCaller(t *testing.T) {
	f := newFixture(t, 0)
	func() {
		m, err := f.alloc.AllocateFromBuffer(BufferOf([]float32{5, 4, 2}), nil, nil)
		require.NoError(t, err)
		vals, err := As[float32](m)
		require.NoError(t, err)

		runtime.GC()
		runtime.GC()
		assert.Equal(t, 1, f.host.Live())
		assert.Equal(t, []float32{5, 4, 2}, vals)
		runtime.KeepAlive(m)
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return f.host.Live() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestReleasedMemRefSkipsCleanup(t *testing.T) {
	f := newFixture(t, 0)
	m, err := f.alloc.Allocate([]int64{8}, scalar.I8, nil)
	require.NoError(t, err)
	require.NoError(t, m.Release())
	runtime.GC()
	runtime.GC()

	registered, finalized := f.alloc.Coordinator().Stats()
	assert.Equal(t, uint64(1), registered)
	assert.Equal(t, uint64(1), finalized)
}

func TestCanonicalBoolsParallel(t *testing.T) {
	f := newFixture(t, 0)
	f.alloc.SetParallel(parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 16})

	src := make([]byte, 1000)
	for i := range src {
		src[i] = byte(i % 3)
	}
	m, err := f.alloc.AllocateFromBuffer(HostBuffer{Data: src, Format: "?"}, nil, nil)
	require.NoError(t, err)
	defer m.Release()

	got, err := m.Bytes()
	require.NoError(t, err)
	for i, v := range got {
		want := byte(0)
		if i%3 != 0 {
			want = 1
		}
		require.Equal(t, want, v, "index %d", i)
	}
}
