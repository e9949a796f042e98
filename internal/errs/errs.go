// Package errs defines the typed error taxonomy shared by every layer of
// the pipeline, from argument validation through raster I/O.
package errs

import (
	"errors"
	"fmt"
)

// Kind categorises a pipeline error so callers can map it to an exit code
// or a user-facing message without string matching.
type Kind int

const (
	// KindUnknown is the zero value; never returned deliberately.
	KindUnknown Kind = iota
	KindMissingArgument
	KindWrongArgument
	KindRasterIOFailure
	KindLayerInvalidName
	KindLayerDuplicatedName
	KindLayerNotFound
	KindLayerTypeMismatch
	KindContoursNotFound
	KindNumericDegenerate
)

func (k Kind) String() string {
	switch k {
	case KindMissingArgument:
		return "missing_argument"
	case KindWrongArgument:
		return "wrong_argument"
	case KindRasterIOFailure:
		return "raster_io_failure"
	case KindLayerInvalidName:
		return "layer_invalid_name"
	case KindLayerDuplicatedName:
		return "layer_duplicated_name"
	case KindLayerNotFound:
		return "layer_not_found"
	case KindLayerTypeMismatch:
		return "layer_type_mismatch"
	case KindContoursNotFound:
		return "contours_not_found"
	case KindNumericDegenerate:
		return "numeric_degenerate"
	default:
		return "unknown"
	}
}

// Error is a typed pipeline error: a Kind plus a message and optional
// wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an *Error with no wrapped cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error carrying cause as its wrapped error.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// As reports whether err is (or wraps) an *Error, returning it if so.
func As(err error) (*Error, bool) {
	var e *Error
	if err == nil {
		return nil, false
	}
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
