package types

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no base row exists for a key
	ErrNotFound = errors.New("instrument not found")
)

// ValidationError reports a field that failed a validation rule.
// It is never retried; the payload itself is wrong.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on field %q: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a single field
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// UnknownFieldError reports a field name that no registered schema contains.
// Raised before any write is attempted.
type UnknownFieldError struct {
	Field    string
	InstType InstrumentType
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field %q for instrument type %s", e.Field, e.InstType)
}

// SchemaNotFoundError reports an instrument type with no registered schema
type SchemaNotFoundError struct {
	InstType InstrumentType
}

func (e *SchemaNotFoundError) Error() string {
	return fmt.Sprintf("no schema registered for instrument type %q", e.InstType)
}

// BackendUnavailableError wraps a transient storage failure. Callers may
// retry reads and idempotent upserts; non-idempotent operations must not be
// retried blindly.
type BackendUnavailableError struct {
	Op  string
	Err error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("backend unavailable during %s: %v", e.Op, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error {
	return e.Err
}

// Consistency warning codes attached to read results
const (
	WarnMissingExtension = "MISSING_EXTENSION"
)

// ConsistencyWarning marks a degraded but readable record, e.g. a base row
// whose required extension row is absent. It is part of the result, not an
// error: the read still succeeds.
type ConsistencyWarning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
