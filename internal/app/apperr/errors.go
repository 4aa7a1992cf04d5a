// Package apperr provides the transport-independent error taxonomy shared by
// every control-plane component.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure shared across every component.
type Code string

const (
	Validation          Code = "VALIDATION"
	ConflictingState    Code = "CONFLICTING_STATE"
	NotFound            Code = "NOT_FOUND"
	ResourceExhausted   Code = "RESOURCE_EXHAUSTED"
	ArtifactCorrupted   Code = "ARTIFACT_CORRUPTED"
	UpstreamUnavailable Code = "UPSTREAM_UNAVAILABLE"
	Cancelled           Code = "CANCELLED"
	Internal            Code = "INTERNAL"
)

// ServiceError is a structured error carrying a taxonomy code, a message, and
// optional machine-readable details. Components translate underlying faults
// (SQL errors, I/O errors, context cancellation) to a ServiceError at their
// boundary; callers inspect CodeOf(err) rather than sentinel values.
type ServiceError struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// WithDetails attaches a key/value pair and returns the same error for chaining.
func (e *ServiceError) WithDetails(key string, value any) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New builds a ServiceError with no wrapped cause.
func New(code Code, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message}
}

// Wrap builds a ServiceError around an underlying cause.
func Wrap(code Code, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, Err: err}
}

// CodeOf extracts the taxonomy code from err, defaulting to Internal when err
// is not (or does not wrap) a *ServiceError.
func CodeOf(err error) Code {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Code
	}
	return Internal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

func NewValidation(format string, args ...any) *ServiceError {
	return New(Validation, fmt.Sprintf(format, args...))
}

func NewConflictingState(format string, args ...any) *ServiceError {
	return New(ConflictingState, fmt.Sprintf(format, args...))
}

func NewNotFound(entity, id string) *ServiceError {
	return New(NotFound, fmt.Sprintf("%s not found", entity)).WithDetails("id", id)
}

func NewResourceExhausted(format string, args ...any) *ServiceError {
	return New(ResourceExhausted, fmt.Sprintf(format, args...))
}

func NewArtifactCorrupted(ref string, err error) *ServiceError {
	return Wrap(ArtifactCorrupted, fmt.Sprintf("artifact %s failed checksum verification", ref), err)
}

func NewUpstreamUnavailable(upstream string, err error) *ServiceError {
	return Wrap(UpstreamUnavailable, fmt.Sprintf("%s unavailable", upstream), err)
}

func NewCancelled(op string) *ServiceError {
	return New(Cancelled, fmt.Sprintf("%s was cancelled", op))
}

func NewInternal(err error) *ServiceError {
	return Wrap(Internal, "internal error", err)
}
