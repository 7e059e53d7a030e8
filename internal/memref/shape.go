package memref

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// NumElements returns the element count of shape: 1 for rank 0, 0 when any
// dimension is zero.
func NumElements(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

// ValidateShape rejects negative dimensions and element counts that would
// overflow a byte size of itemSize.
func ValidateShape(shape []int64, itemSize int) error {
	n := int64(1)
	for i, d := range shape {
		if d < 0 {
			return fmt.Errorf("%w: dimension %d is negative (%d)", ErrShapeMismatch, i, d)
		}
		if d != 0 && n > math.MaxInt64/d {
			return fmt.Errorf("%w: element count of %v overflows", ErrShapeMismatch, shape)
		}
		n *= d
	}
	if itemSize > 0 && n > int64(math.MaxInt)/int64(itemSize) {
		return fmt.Errorf("%w: byte size of %v overflows", ErrShapeMismatch, shape)
	}
	return nil
}

// ComputeStrides returns row-major strides in elements.
// stride[i] is the product of all dimensions after i.
func ComputeStrides(shape []int64) []int64 {
	strides := make([]int64, len(shape))
	if len(shape) == 0 {
		return strides
	}
	strides[len(shape)-1] = 1
	for i := len(shape) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * shape[i+1]
	}
	return strides
}

// IsRowMajor reports whether strides describe a dense row-major layout.
// Dimensions of extent one may carry any stride.
func IsRowMajor(shape, strides []int64) bool {
	if len(shape) != len(strides) {
		return false
	}
	want := int64(1)
	for i := len(shape) - 1; i >= 0; i-- {
		if shape[i] != 1 && strides[i] != want {
			return false
		}
		want *= shape[i]
	}
	return true
}

// ValidateLayout checks strides against shape: one non-negative stride per
// dimension, and a reachable span whose byte size of itemSize fits an int.
// The shape itself must already be valid.
func ValidateLayout(shape, strides []int64, itemSize int) error {
	if len(strides) != len(shape) {
		return fmt.Errorf("%w: %d strides for rank %d", ErrShapeMismatch, len(strides), len(shape))
	}
	for i, st := range strides {
		if st < 0 {
			return fmt.Errorf("%w: negative stride %d at dimension %d", ErrShapeMismatch, st, i)
		}
	}
	if NumElements(shape) == 0 {
		return nil
	}
	limit := int64(math.MaxInt)
	if itemSize > 0 {
		limit /= int64(itemSize)
	}
	hi := int64(0)
	for i, d := range shape {
		st := strides[i]
		if d <= 1 || st == 0 {
			continue
		}
		if st > (limit-1-hi)/(d-1) {
			return fmt.Errorf("%w: strides %s overflow shape %s", ErrShapeMismatch, formatDims(strides), formatDims(shape))
		}
		hi += (d - 1) * st
	}
	return nil
}

// SpanElements returns how many elements a strided layout reaches from its
// base, which is the element count for row-major layouts.
func SpanElements(shape, strides []int64) int64 {
	if NumElements(shape) == 0 {
		return 0
	}
	hi := int64(0)
	for i, d := range shape {
		if s := strides[i]; s > 0 {
			hi += (d - 1) * s
		}
	}
	return hi + 1
}

func cloneDims(d []int64) []int64 {
	out := make([]int64, len(d))
	copy(out, d)
	return out
}

func formatDims(d []int64) string {
	parts := make([]string, len(d))
	for i, v := range d {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
