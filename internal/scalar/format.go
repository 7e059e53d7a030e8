package scalar

import (
	"encoding/binary"
	"fmt"
)

// littleEndian reports the byte order elements are stored in.
var littleEndian = binary.NativeEndian.Uint16([]byte{1, 0}) == 1

// FromFormat maps a native element-format code (buffer protocol letters)
// to exactly one Type. A byte-order prefix is accepted when it names the
// native order ('@', '=', and '<' or '>'/'!' to match the host), or for
// single-byte elements. Platform-sized and unsigned wide codes are rejected
// because they have no single mapping.
func FromFormat(format string) (Type, error) {
	code := format
	native := true
	if len(code) == 2 {
		switch code[0] {
		case '@', '=':
		case '<':
			native = littleEndian
		case '>', '!':
			native = !littleEndian
		default:
			return 0, fmt.Errorf("%w: format %q", ErrUnsupportedType, format)
		}
		code = code[1:]
	}
	if len(code) != 1 {
		return 0, fmt.Errorf("%w: format %q", ErrUnsupportedType, format)
	}

	t, err := formatType(code[0])
	if err != nil {
		return 0, fmt.Errorf("%w: format %q", ErrUnsupportedType, format)
	}
	if !native && t.ByteSize() > 1 {
		return 0, fmt.Errorf("%w: format %q is not in native byte order", ErrUnsupportedType, format)
	}
	return t, nil
}

func formatType(code byte) (Type, error) {
	switch code {
	case '?':
		return I1, nil
	case 'b':
		return I8, nil
	case 'B':
		return UI8, nil
	case 'h':
		return I16, nil
	case 'i':
		return I32, nil
	case 'q':
		return I64, nil
	case 'e':
		return F16, nil
	case 'f':
		return F32, nil
	case 'd':
		return F64, nil
	default:
		return 0, ErrUnsupportedType
	}
}

// Format returns the canonical format letter, or "" when the type has none (bf16).
func (t Type) Format() string {
	switch t {
	case I1:
		return "?"
	case I8:
		return "b"
	case UI8:
		return "B"
	case I16:
		return "h"
	case I32:
		return "i"
	case I64:
		return "q"
	case F16:
		return "e"
	case F32:
		return "f"
	case F64:
		return "d"
	default:
		return ""
	}
}
