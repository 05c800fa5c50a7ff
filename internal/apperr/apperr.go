// Package apperr defines the engine's error taxonomy: stable codes that the
// HTTP adapter maps to status codes, rather than typed Go error hierarchies.
package apperr

import "fmt"

// Code is one of the engine's classified error codes.
type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeNotFound      Code = "NOT_FOUND"
	CodeEmbedding     Code = "EMBEDDING_ERROR"
	CodeDatabase      Code = "DATABASE_ERROR"
	CodePoolExhausted Code = "POOL_EXHAUSTED"
	CodeConsolidation Code = "CONSOLIDATION_ERROR"
	CodeInternal      Code = "INTERNAL_ERROR"
)

// HTTPStatus returns the status code the API layer should emit for c.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation:
		return 400
	case CodeNotFound:
		return 404
	case CodeEmbedding:
		return 502
	case CodeDatabase:
		return 500
	case CodePoolExhausted:
		return 503
	case CodeConsolidation:
		return 500
	default:
		return 500
	}
}

// Error is the engine's classified error type. It wraps an underlying cause
// while attaching a stable Code the API layer can act on (retry, surface
// directly, degrade).
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an Error that wraps cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithDetails attaches structured detail fields and returns e for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// Validation is a convenience constructor for the common case.
func Validation(message string) *Error { return New(CodeValidation, message) }

// NotFound is a convenience constructor for the common case.
func NotFound(message string) *Error { return New(CodeNotFound, message) }
