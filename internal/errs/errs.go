// Package errs implements the error taxonomy every ForestShield subsystem
// classifies its failures into: Validation, NotFound, Conflict, Transient,
// Capacity, Fatal and Partial. Callers use errors.As to recover the Kind
// and decide whether to retry, surface, or treat a failure as non-fatal.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the seven error categories the design classifies
// failures into. It governs retry policy and the HTTP-style status code
// a user-facing surface would translate it to.
type Kind string

const (
	KindValidation Kind = "Validation"
	KindNotFound   Kind = "NotFound"
	KindConflict   Kind = "Conflict"
	KindTransient  Kind = "Transient"
	KindCapacity   Kind = "Capacity"
	KindFatal      Kind = "Fatal"
	KindPartial    Kind = "Partial"
)

// Retriable reports whether errors of this kind are eligible for a
// policy-driven retry (Transient, Conflict). All others propagate
// immediately.
func (k Kind) Retriable() bool {
	return k == KindTransient || k == KindConflict
}

// StatusCode is the HTTP-style code a user-facing surface would
// translate this kind into.
func (k Kind) StatusCode() int {
	switch k {
	case KindValidation:
		return 400
	case KindNotFound:
		return 404
	case KindConflict:
		return 409
	case KindCapacity:
		return 503
	case KindTransient:
		return 503
	default:
		return 500
	}
}

// Error is a classified, optionally wrapped error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with no underlying cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error under kind, preserving it for
// errors.Is/As traversal.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err (or something it wraps) is a classified Error
// of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of a classified error, defaulting to Fatal
// for unclassified errors — an unclassified failure is treated as the
// least forgiving case rather than silently retried.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

var (
	// ErrConditionFailed is returned by SSS.Update/OS conditional puts
	// when the caller's precondition no longer holds.
	ErrConditionFailed = New(KindConflict, "condition failed")
	// ErrNotFound is returned by Get operations across SSS/OS/MLM when
	// the requested key is absent.
	ErrNotFound = New(KindNotFound, "not found")
	// ErrConcurrentModelUpdate is returned by MLM.SaveNewModel when the
	// latest pointer could not be flipped after exhausting retries.
	ErrConcurrentModelUpdate = New(KindFatal, "concurrent model update: pointer flip exhausted retries")
)
