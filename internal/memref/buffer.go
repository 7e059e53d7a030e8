package memref

import (
	"fmt"
	"unsafe"

	"github.com/x448/float16"

	"github.com/born-ml/memrt/internal/device"
	"github.com/born-ml/memrt/internal/lifetime"
	"github.com/born-ml/memrt/internal/parallel"
	"github.com/born-ml/memrt/internal/scalar"
)

// HostBuffer is a contiguous host array handed in for copying: raw bytes,
// a native element format letter, the element size and an optional shape.
// A zero ItemSize means the size of the resolved element type.
type HostBuffer struct {
	Data     []byte
	Format   string
	ItemSize int
	// Shape defaults to one dimension of len(Data)/ItemSize when nil.
	// A non-nil empty shape describes a scalar.
	Shape []int64
}

// layout resolves the element type and shape of b.
func (b HostBuffer) layout(dtype *scalar.Type) (scalar.Type, []int64, error) {
	var t scalar.Type
	if dtype != nil {
		t = *dtype
		if err := checkType(t); err != nil {
			return 0, nil, err
		}
	} else {
		inferred, err := scalar.FromFormat(b.Format)
		if err != nil {
			return 0, nil, err
		}
		t = inferred
	}

	item, err := b.declaredItemSize()
	if err != nil {
		return 0, nil, err
	}
	if item == 0 {
		item = t.ByteSize()
	}
	if item != t.ByteSize() {
		return 0, nil, fmt.Errorf("%w: %s needs %d-byte elements, buffer has %d", ErrShapeMismatch, t, t.ByteSize(), item)
	}
	if len(b.Data)%item != 0 {
		return 0, nil, fmt.Errorf("%w: %d bytes is not a multiple of item size %d", ErrShapeMismatch, len(b.Data), item)
	}

	var shape []int64
	if b.Shape == nil {
		shape = []int64{int64(len(b.Data) / item)}
	} else {
		if err := ValidateShape(b.Shape, item); err != nil {
			return 0, nil, err
		}
		shape = cloneDims(b.Shape)
	}
	if want := NumElements(shape) * int64(item); want != int64(len(b.Data)) {
		return 0, nil, fmt.Errorf("%w: shape %s needs %d bytes, buffer has %d", ErrShapeMismatch, formatDims(shape), want, len(b.Data))
	}
	return t, shape, nil
}

// declaredItemSize returns the element size b claims through its format
// letter or ItemSize, or 0 when it claims none. Unknown letters fall back
// to ItemSize.
func (b HostBuffer) declaredItemSize() (int, error) {
	ft, err := scalar.FromFormat(b.Format)
	if b.Format == "" || err != nil {
		return b.ItemSize, nil
	}
	if b.ItemSize != 0 && b.ItemSize != ft.ByteSize() {
		return 0, fmt.Errorf("%w: format %q has %d-byte elements, item size is %d", ErrShapeMismatch, b.Format, ft.ByteSize(), b.ItemSize)
	}
	return ft.ByteSize(), nil
}

func canonicalBools(src []byte, cfg parallel.Config) []byte {
	out := make([]byte, len(src))
	parallel.Range(len(src), cfg, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if src[i] != 0 {
				out[i] = 1
			}
		}
	})
	return out
}

// Element is the set of Go types that map one-to-one onto a scalar type.
type Element interface {
	bool | int8 | uint8 | int16 | int32 | int64 | float16.Float16 | scalar.BFloat16 | float32 | float64
}

// TypeOf returns the scalar type stored as T.
func TypeOf[T Element]() scalar.Type {
	var zero T
	switch any(zero).(type) {
	case bool:
		return scalar.I1
	case int8:
		return scalar.I8
	case uint8:
		return scalar.UI8
	case int16:
		return scalar.I16
	case int32:
		return scalar.I32
	case int64:
		return scalar.I64
	case float16.Float16:
		return scalar.F16
	case scalar.BFloat16:
		return scalar.BF16
	case float32:
		return scalar.F32
	default:
		return scalar.F64
	}
}

// BufferOf describes s as a one-dimensional host buffer without copying.
// bf16 has no format letter, so its buffers need an explicit dtype.
func BufferOf[T Element](s []T) HostBuffer {
	t := TypeOf[T]()
	var data []byte
	if len(s) > 0 {
		data = unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*t.ByteSize())
	} else {
		data = []byte{}
	}
	return HostBuffer{Data: data, Format: t.Format(), ItemSize: t.ByteSize()}
}

// As returns the elements of a live, host-addressable, row-major memref as
// a []T without copying. T must match the memref's dtype. As with Bytes,
// the slice does not keep m reachable; use runtime.KeepAlive(m) after the
// last use of the slice.
func As[T Element](m *MemRef) ([]T, error) {
	if want := TypeOf[T](); want != m.dtype {
		return nil, fmt.Errorf("%w: memref holds %s, not %s", scalar.ErrUnsupportedType, m.dtype, want)
	}
	if m.Released() {
		return nil, fmt.Errorf("%w: memref already released", lifetime.ErrUseAfterFree)
	}
	if !m.dev.Driver().Addressable() {
		return nil, fmt.Errorf("%w: %s", device.ErrNotAddressable, m.dev)
	}
	if !m.IsRowMajor() {
		return nil, fmt.Errorf("%w: layout %s is not row-major", ErrShapeMismatch, formatDims(m.strides))
	}
	n := int(m.NumElements())
	if n == 0 {
		return []T{}, nil
	}
	b := device.HostBytes(m.ptr, n*m.dtype.ByteSize())
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), n), nil
}
