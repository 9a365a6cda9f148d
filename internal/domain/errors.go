package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across layers. "not found" deliberately covers both
// "no such asset" and "not owned by the caller" so ownership cannot be probed.
var (
	ErrNotFound           = errors.New("asset not found")
	ErrDuplicateObjectKey = errors.New("object key already exists")
)

// Validation kinds. A ValidationError wraps exactly one of these so callers
// can branch with errors.Is while still reporting the specific reason string.
var (
	ErrInvalidContentType   = errors.New("invalid content type")
	ErrPayloadTooLarge      = errors.New("payload too large")
	ErrDimensionsTooLarge   = errors.New("dimensions too large")
	ErrNotAnImage           = errors.New("not a decodable image")
	ErrUnsupportedFilter    = errors.New("unsupported filter")
	ErrUnsupportedOperation = errors.New("unsupported operation")
)

// ValidationError carries the caller-facing rejection reason.
type ValidationError struct {
	Kind   error
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func (e *ValidationError) Unwrap() error { return e.Kind }

// Validationf builds a ValidationError of the given kind.
func Validationf(kind error, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
