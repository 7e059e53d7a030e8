// Package scalar defines the closed set of element types a memref can hold.
//
// Every Type has a bit width, a class (signed, unsigned, float, bool) and
// an element byte size used to compute byte lengths and strides.
//
// Boolean (i1) policy: one byte per element, values 0x00 or 0x01. This
// holds for internal host copies as well as on the DLPack boundary, where
// i1 travels as kDLBool with 8 bits. i1 is never reported as i8.
package scalar

import (
	"errors"
	"fmt"
)

// ErrUnsupportedType is returned for type identifiers outside the closed set.
var ErrUnsupportedType = errors.New("unsupported scalar type")

// Type identifies an element type.
type Type int

// Supported scalar types.
const (
	I1 Type = iota
	I8
	I16
	I32
	I64
	UI8
	F16
	BF16
	F32
	F64

	numTypes
)

// Class is the numeric family of a Type.
type Class int

// Scalar classes.
const (
	Signed Class = iota
	Unsigned
	Float
	Bool
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case Signed:
		return "signed"
	case Unsigned:
		return "unsigned"
	case Float:
		return "float"
	case Bool:
		return "bool"
	default:
		return "unknown"
	}
}

// All returns every supported type in declaration order.
func All() []Type {
	types := make([]Type, 0, numTypes)
	for t := I1; t < numTypes; t++ {
		types = append(types, t)
	}
	return types
}

// Lookup converts a raw integer code into a Type.
func Lookup(code int) (Type, error) {
	t := Type(code)
	if !t.Valid() {
		return 0, fmt.Errorf("%w: code %d", ErrUnsupportedType, code)
	}
	return t, nil
}

// Parse accepts either the short name ("f32") or the qualified name
// ("ScalarTypeCode.f32").
func Parse(name string) (Type, error) {
	for t := I1; t < numTypes; t++ {
		if name == t.String() || name == t.Name() {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedType, name)
}

// Valid reports whether t is a member of the closed set.
func (t Type) Valid() bool {
	return t >= I1 && t < numTypes
}

// Bits returns the logical bit width.
func (t Type) Bits() int {
	switch t {
	case I1:
		return 1
	case I8, UI8:
		return 8
	case I16, F16, BF16:
		return 16
	case I32, F32:
		return 32
	case I64, F64:
		return 64
	default:
		panic(fmt.Sprintf("scalar: invalid type %d", int(t)))
	}
}

// Class returns the numeric family.
func (t Type) Class() Class {
	switch t {
	case I1:
		return Bool
	case I8, I16, I32, I64:
		return Signed
	case UI8:
		return Unsigned
	case F16, BF16, F32, F64:
		return Float
	default:
		panic(fmt.Sprintf("scalar: invalid type %d", int(t)))
	}
}

// ByteSize returns the in-memory size of one element.
// Sub-byte types are padded to a full byte.
func (t Type) ByteSize() int {
	if t == I1 {
		return 1
	}
	return t.Bits() / 8
}

// String returns the short name, e.g. "f32".
func (t Type) String() string {
	switch t {
	case I1:
		return "i1"
	case I8:
		return "i8"
	case I16:
		return "i16"
	case I32:
		return "i32"
	case I64:
		return "i64"
	case UI8:
		return "ui8"
	case F16:
		return "f16"
	case BF16:
		return "bf16"
	case F32:
		return "f32"
	case F64:
		return "f64"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Name returns the qualified name used when printing memrefs.
func (t Type) Name() string {
	return "ScalarTypeCode." + t.String()
}
