package scalar

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/x448/float16"
)

// BFloat16 is the storage type for brain-float-16: the upper half of an IEEE float32.
type BFloat16 uint16

// BFloat16FromFloat32 truncates f to bf16 with round-to-nearest-even.
func BFloat16FromFloat32(f float32) BFloat16 {
	u := math.Float32bits(f)
	if math.IsNaN(float64(f)) { // keep NaN quiet and non-zero
		return BFloat16(u>>16 | 0x0040)
	}
	rounding := uint32(0x7FFF) + (u>>16)&1
	return BFloat16((u + rounding) >> 16)
}

// Float32 widens b to float32 exactly.
func (b BFloat16) Float32() float32 {
	return math.Float32frombits(uint32(b) << 16)
}

// Element decodes element i of host bytes b as a float64 (bool as 0/1).
// b is in native byte order.
func (t Type) Element(b []byte, i int) float64 {
	off := i * t.ByteSize()
	ne := binary.NativeEndian
	switch t {
	case I1:
		if b[off] != 0 {
			return 1
		}
		return 0
	case I8:
		return float64(int8(b[off]))
	case UI8:
		return float64(b[off])
	case I16:
		return float64(int16(ne.Uint16(b[off:])))
	case I32:
		return float64(int32(ne.Uint32(b[off:])))
	case I64:
		return float64(int64(ne.Uint64(b[off:])))
	case F16:
		return float64(float16.Frombits(ne.Uint16(b[off:])).Float32())
	case BF16:
		return float64(BFloat16(ne.Uint16(b[off:])).Float32())
	case F32:
		return float64(math.Float32frombits(ne.Uint32(b[off:])))
	case F64:
		return math.Float64frombits(ne.Uint64(b[off:]))
	default:
		panic(fmt.Sprintf("scalar: invalid type %d", int(t)))
	}
}

// FormatElements renders every element of b, the way array libraries print them.
func (t Type) FormatElements(b []byte) []string {
	n := len(b) / t.ByteSize()
	out := make([]string, n)
	for i := range n {
		v := t.Element(b, i)
		switch t.Class() {
		case Bool:
			if v != 0 {
				out[i] = "True"
			} else {
				out[i] = "False"
			}
		case Float:
			out[i] = formatFloat(v)
		default:
			out[i] = strconv.FormatInt(int64(v), 10)
		}
	}
	return out
}

// Render formats b as a one-dimensional list, e.g. "[5. 4. 2.]".
func (t Type) Render(b []byte) string {
	return "[" + strings.Join(t.FormatElements(b), " ") + "]"
}

func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	case v == math.Trunc(v) && math.Abs(v) < 1e16:
		return strconv.FormatFloat(v, 'f', 0, 64) + "."
	default:
		return strconv.FormatFloat(v, 'g', 8, 64)
	}
}

// ParseElements encodes textual values as native-order elements of t.
// Booleans accept anything strconv.ParseBool does; i1 is stored as 0/1.
func (t Type) ParseElements(vals []string) ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: code %d", ErrUnsupportedType, int(t))
	}
	size := t.ByteSize()
	out := make([]byte, len(vals)*size)
	ne := binary.NativeEndian
	for i, s := range vals {
		s = strings.TrimSpace(s)
		b := out[i*size:]
		var err error
		switch t {
		case I1:
			var v bool
			if v, err = strconv.ParseBool(s); err == nil && v {
				b[0] = 1
			}
		case I8, I16, I32, I64:
			var v int64
			if v, err = strconv.ParseInt(s, 10, t.Bits()); err == nil {
				putInt(b, size, uint64(v))
			}
		case UI8:
			var v uint64
			if v, err = strconv.ParseUint(s, 10, 8); err == nil {
				b[0] = byte(v)
			}
		case F16, BF16, F32:
			var v float64
			if v, err = strconv.ParseFloat(s, 32); err == nil {
				switch t {
				case F16:
					ne.PutUint16(b, float16.Fromfloat32(float32(v)).Bits())
				case BF16:
					ne.PutUint16(b, uint16(BFloat16FromFloat32(float32(v))))
				default:
					ne.PutUint32(b, math.Float32bits(float32(v)))
				}
			}
		case F64:
			var v float64
			if v, err = strconv.ParseFloat(s, 64); err == nil {
				ne.PutUint64(b, math.Float64bits(v))
			}
		}
		if err != nil {
			return nil, fmt.Errorf("element %d %q as %s: %w", i, s, t, err)
		}
	}
	return out, nil
}

func putInt(b []byte, size int, v uint64) {
	ne := binary.NativeEndian
	switch size {
	case 1:
		b[0] = byte(v)
	case 2:
		ne.PutUint16(b, uint16(v))
	case 4:
		ne.PutUint32(b, uint32(v))
	default:
		ne.PutUint64(b, v)
	}
}
