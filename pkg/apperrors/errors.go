// Package apperrors defines the error taxonomy shared across the engine.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPermissionDenied indicates the acting principal is not authorized for
	// the requested operation. Never retryable with the same principal.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrStorage indicates a durable-store failure after internal retries were
	// exhausted. Callers may retry with backoff.
	ErrStorage = errors.New("storage failure")

	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// Storage wraps a cause as an ErrStorage so callers can match the taxonomy
// with errors.Is while keeping the underlying detail in the message.
func Storage(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStorage, err)
}

// Violation is a single validation failure on an input field.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates every violation found on an input record.
// Aggregation (rather than first-failure) makes rejected payloads debuggable
// from a single response.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = fmt.Sprintf("%s: %s", v.Field, v.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add appends a violation.
func (e *ValidationError) Add(field, message string) {
	e.Violations = append(e.Violations, Violation{Field: field, Message: message})
}

// OrNil returns the error if any violation was recorded, nil otherwise.
func (e *ValidationError) OrNil() error {
	if len(e.Violations) == 0 {
		return nil
	}
	return e
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// AsValidation unwraps err into a ValidationError, if it is one.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}
