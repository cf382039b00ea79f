// Package errors provides the structured error system for the virtual
// filesystem engine: a closed set of error kinds, each with a default HTTP
// status, a human message, and an optional provider status code.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error. The set is closed; driver and facade code
// must translate every failure into one of these before it crosses a package
// boundary.
type Kind string

const (
	KindNotFound          Kind = "NOT_FOUND"
	KindConflict          Kind = "CONFLICT"
	KindBadRequest        Kind = "BAD_REQUEST"
	KindForbidden         Kind = "FORBIDDEN"
	KindUnauthenticated   Kind = "UNAUTHENTICATED"
	KindUnimplemented     Kind = "UNIMPLEMENTED"
	KindProviderTransient Kind = "PROVIDER_TRANSIENT"
	KindProviderPermanent Kind = "PROVIDER_PERMANENT"
	KindCancelled         Kind = "CANCELLED"
	KindInternal          Kind = "INTERNAL"
)

// Error is a structured engine error.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`

	// ProviderStatus carries the original provider HTTP status for
	// PROVIDER_* kinds, zero otherwise.
	ProviderStatus int `json:"provider_status,omitempty"`

	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by kind so callers can use errors.Is with sentinel kinds.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// HTTPStatus returns the HTTP status code this error maps to.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindBadRequest:
		return 400
	case KindUnauthenticated:
		return 401
	case KindForbidden:
		return 403
	case KindNotFound:
		return 404
	case KindConflict:
		return 409
	case KindCancelled:
		return 499
	case KindUnimplemented:
		return 501
	case KindProviderTransient:
		return 503
	case KindProviderPermanent:
		return 502
	default:
		return 500
	}
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind wrapping a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Provider creates a PROVIDER_* error carrying the original status code.
// Status codes in the 5xx range and 429 are transient; everything else is
// permanent.
func Provider(status int, message string, cause error) *Error {
	kind := KindProviderPermanent
	if status >= 500 || status == 429 {
		kind = KindProviderTransient
	}
	return &Error{Kind: kind, Message: message, ProviderStatus: status, Cause: cause}
}

// NotFound creates a NOT_FOUND error.
func NotFound(message string) *Error { return New(KindNotFound, message) }

// Conflict creates a CONFLICT error.
func Conflict(message string) *Error { return New(KindConflict, message) }

// BadRequest creates a BAD_REQUEST error.
func BadRequest(message string) *Error { return New(KindBadRequest, message) }

// Forbidden creates a FORBIDDEN error.
func Forbidden(message string) *Error { return New(KindForbidden, message) }

// Unimplemented creates an UNIMPLEMENTED error.
func Unimplemented(message string) *Error { return New(KindUnimplemented, message) }

// Cancelled creates a CANCELLED error.
func Cancelled(cause error) *Error {
	return &Error{Kind: KindCancelled, Message: "operation cancelled", Cause: cause}
}

// Internal creates an INTERNAL error wrapping a cause.
func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, Cause: cause}
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is an engine error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// HTTPStatusOf returns the HTTP status for err, 500 for foreign errors.
func HTTPStatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return 500
}
