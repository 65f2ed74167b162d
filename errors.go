package h5vol

import "github.com/scigolib/h5vol/internal/utils"

// Error kinds. Every error returned by this package matches one of them
// with errors.Is.
var (
	ErrNotFound        = utils.ErrNotFound
	ErrAlreadyExists   = utils.ErrAlreadyExists
	ErrInvalidArgument = utils.ErrInvalidArgument
	ErrTooManyLinks    = utils.ErrTooManyLinks
	ErrUnavailable     = utils.ErrUnavailable
	ErrUnsupported     = utils.ErrUnsupported
	ErrIO              = utils.ErrIO
)
