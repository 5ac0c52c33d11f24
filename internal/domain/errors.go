package domain

import (
	"errors"
	"fmt"
)

// ErrValidation and related errors describe malformed input rejected before any state mutation.
var (
	ErrValidation          = errors.New("validation error")
	ErrUnknownEventKind    = errors.New("unknown event kind")
	ErrUnknownAction       = errors.New("unknown action")
	ErrInvalidID           = errors.New("invalid id")
	ErrInvalidUserID       = errors.New("invalid user id")
	ErrInvalidEnergyLevel  = errors.New("energy level must be between 1 and 10")
	ErrInvalidTimestamp    = errors.New("invalid timestamp")
	ErrInvalidPriority     = errors.New("invalid priority")
	ErrInvalidMode         = errors.New("invalid mode")
	ErrInvalidMinutes      = errors.New("invalid minutes")
	ErrInvalidIntervention = errors.New("invalid intervention type")
	ErrInvalidTimezone     = errors.New("invalid timezone")
)

// ErrStateConsistency reports an event that is well formed but not valid for the loaded state.
var ErrStateConsistency = errors.New("state consistency error")

// FieldError names the event field that failed validation.
type FieldError struct {
	Field string
	Err   error
}

// Error implements error.
func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

// Unwrap exposes the sentinel plus ErrValidation to errors.Is.
func (e *FieldError) Unwrap() []error {
	return []error{ErrValidation, e.Err}
}

// fieldError wraps err with the field that produced it.
func fieldError(field string, err error) error {
	return &FieldError{Field: field, Err: err}
}

// StateError records a recoverable consistency failure surfaced to the user.
type StateError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements error.
func (e *StateError) Error() string {
	return e.Message
}

// Is matches ErrStateConsistency.
func (e *StateError) Is(target error) bool {
	return target == ErrStateConsistency
}

// NewStateError builds one consistency failure with a stable code.
func NewStateError(code, format string, args ...any) *StateError {
	return &StateError{Code: code, Message: fmt.Sprintf(format, args...)}
}
