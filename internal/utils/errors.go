// Package utils provides shared error kinds and size helpers for the h5vol library.
package utils

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure returned by the library matches exactly one of
// these through errors.Is, with the identifying context (component name,
// filter id, connector name) carried in the message.
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrTooManyLinks     = errors.New("too many links")
	ErrUnavailable      = errors.New("unavailable")
	ErrUnsupported      = errors.New("capability unsupported")
	ErrIO               = errors.New("i/o failure")
	ErrFilterNotFound   = fmt.Errorf("filter %w", ErrNotFound)
	ErrObjectNotFound   = fmt.Errorf("object %w", ErrNotFound)
	ErrConnectorInvalid = fmt.Errorf("invalid connector: %w", ErrInvalidArgument)
)

// H5Error represents a structured HDF5 error.
type H5Error struct {
	Context string
	Cause   error
}

// Error implements the error interface.
func (e *H5Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Context, e.Cause)
}

// WrapError creates a contextual error.
func WrapError(context string, cause error) error {
	if cause == nil {
		return nil
	}
	return &H5Error{
		Context: context,
		Cause:   cause,
	}
}

// Unwrap provides compatibility with errors.Unwrap().
func (e *H5Error) Unwrap() error {
	return e.Cause
}

// KeepPrimary combines the error of a primary operation with a failure from
// follow-up bookkeeping. The primary error stays first in the chain and a nil
// primary lets the secondary through.
func KeepPrimary(primary, secondary error) error {
	switch {
	case secondary == nil:
		return primary
	case primary == nil:
		return secondary
	default:
		return errors.Join(primary, secondary)
	}
}
