package memref

import "errors"

// Common errors.
var (
	// ErrAllocation is returned when a device cannot provide the requested bytes.
	ErrAllocation = errors.New("allocation failed")

	// ErrInvalidPointer is returned for a null pointer with a non-zero element count.
	ErrInvalidPointer = errors.New("invalid pointer")

	// ErrShapeMismatch is returned when a shape disagrees with the bytes behind it.
	ErrShapeMismatch = errors.New("shape mismatch")
)
