package utils

import (
	"fmt"
	"math"
)

// CheckMultiplyOverflow checks if multiplying two uint64 values would overflow.
// Returns an error if overflow would occur.
func CheckMultiplyOverflow(a, b uint64) error {
	if a == 0 || b == 0 {
		return nil // No overflow when either is zero
	}

	if a > math.MaxUint64/b {
		return fmt.Errorf("multiplication overflow: %d * %d exceeds uint64 max: %w", a, b, ErrInvalidArgument)
	}

	return nil
}

// SafeMultiply multiplies two uint64 values and returns the result if no overflow occurs.
// Returns 0 and an error if overflow would occur.
func SafeMultiply(a, b uint64) (uint64, error) {
	if err := CheckMultiplyOverflow(a, b); err != nil {
		return 0, err
	}
	return a * b, nil
}

// DataSize returns the byte size of an extent with the given dimensions and
// element size, failing on overflow. A scalar (no dimensions) holds one element.
func DataSize(dims []uint64, elementSize uint64) (uint64, error) {
	if elementSize == 0 {
		return 0, fmt.Errorf("element size cannot be zero: %w", ErrInvalidArgument)
	}

	size := uint64(1)
	for i, dim := range dims {
		if dim > 0 && size > math.MaxUint64/dim {
			return 0, fmt.Errorf("extent overflow at dimension %d: %w", i, ErrInvalidArgument)
		}
		size *= dim
	}

	if size > math.MaxUint64/elementSize {
		return 0, fmt.Errorf("extent overflow: dims product %d, elem size %d: %w", size, elementSize, ErrInvalidArgument)
	}

	return size * elementSize, nil
}

// ValidateBufferSize validates that a buffer size is within reasonable limits.
// maxSize parameter allows different limits for different use cases.
func ValidateBufferSize(size, maxSize uint64, description string) error {
	if size > maxSize {
		return fmt.Errorf("%s: size %d exceeds maximum %d: %w", description, size, maxSize, ErrInvalidArgument)
	}

	return nil
}

// Common buffer size limits.
const (
	// MaxDatasetSize limits a dataset's in-memory extent to 1GB.
	MaxDatasetSize = 1024 * 1024 * 1024

	// MaxAttributeSize limits attribute size to 64MB.
	MaxAttributeSize = 64 * 1024 * 1024
)
