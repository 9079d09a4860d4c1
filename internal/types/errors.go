package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failure for propagation policy purposes.
// Kinds are stable strings that appear verbatim in API error envelopes.
type ErrorKind string

const (
	KindValidation   ErrorKind = "VALIDATION"
	KindNotFound     ErrorKind = "NOT_FOUND"
	KindConflict     ErrorKind = "CONFLICT"
	KindOwnership    ErrorKind = "OWNERSHIP_ERROR"
	KindPrecondition ErrorKind = "PRECONDITION_FAILED"
	KindStale        ErrorKind = "STALE"
	KindTransient    ErrorKind = "TRANSIENT"
	KindCorruption   ErrorKind = "CORRUPTION"
	KindInternal     ErrorKind = "INTERNAL"
)

// CoreError is the error currency of the coordination core. Every failure
// that crosses a package boundary is either a CoreError or wraps one.
type CoreError struct {
	Kind    ErrorKind
	Message string
	Details map[string]interface{}
	cause   error
}

func (e *CoreError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error { return e.cause }

// WithDetail attaches a key/value pair to the error's details map.
func (e *CoreError) WithDetail(key string, value interface{}) *CoreError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewError constructs a CoreError of the given kind.
func NewError(kind ErrorKind, format string, args ...interface{}) *CoreError {
	return &CoreError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps err in a CoreError of the given kind, preserving the chain.
func WrapError(kind ErrorKind, err error, format string, args ...interface{}) *CoreError {
	return &CoreError{Kind: kind, Message: fmt.Sprintf(format, args...), cause: err}
}

func Validationf(format string, args ...interface{}) *CoreError {
	return NewError(KindValidation, format, args...)
}

func NotFoundf(format string, args ...interface{}) *CoreError {
	return NewError(KindNotFound, format, args...)
}

func Conflictf(format string, args ...interface{}) *CoreError {
	return NewError(KindConflict, format, args...)
}

func Ownershipf(format string, args ...interface{}) *CoreError {
	return NewError(KindOwnership, format, args...)
}

func Preconditionf(format string, args ...interface{}) *CoreError {
	return NewError(KindPrecondition, format, args...)
}

func Stalef(format string, args ...interface{}) *CoreError {
	return NewError(KindStale, format, args...)
}

func Transientf(format string, args ...interface{}) *CoreError {
	return NewError(KindTransient, format, args...)
}

// KindOf extracts the ErrorKind from err's chain, defaulting to INTERNAL.
func KindOf(err error) ErrorKind {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// IsKind reports whether err's chain carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps an error kind to its API status code.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindOwnership:
		return http.StatusForbidden
	case KindPrecondition:
		return http.StatusPreconditionFailed
	case KindStale:
		return http.StatusGone
	case KindTransient, KindCorruption:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may retry the failed operation.
func (k ErrorKind) Retryable() bool { return k == KindTransient }
