package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a gateway failure into one of the stable error
// codes surfaced to callers.
type ErrorKind string

const (
	ErrValidation        ErrorKind = "validation"
	ErrModelNotFound     ErrorKind = "model_not_found"
	ErrNoModelsAvailable ErrorKind = "no_models_available"
	ErrProvider          ErrorKind = "provider"
	ErrEmbedding         ErrorKind = "embedding"
	ErrSimilarityStore   ErrorKind = "similarity_store"
	ErrBatching          ErrorKind = "batching"
	ErrConfiguration     ErrorKind = "configuration"
	ErrObservability     ErrorKind = "observability"
)

// Error is the structured error returned to callers: a stable kind, a
// human-readable message, and a request id for correlation.
type Error struct {
	Kind      ErrorKind
	Message   string
	Field     string // set for validation errors
	RequestID string
	Err       error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field %s)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates an Error of the given kind.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps err with a kind and message, preserving the chain.
func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// ValidationError creates a validation error annotated with the
// offending field.
func ValidationError(field, format string, args ...any) *Error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...), Field: field}
}

// Kind extracts the error kind from anywhere in a wrap chain. Unknown
// errors report as provider-neutral empty kind.
func Kind(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return Kind(err) == kind
}
