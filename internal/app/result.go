package app

import (
	"context"
	"errors"

	"github.com/hylla/nudge/internal/domain"
)

// ResultError describes why an event failed.
type ResultError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Field     string    `json:"field,omitempty"`
	Retryable bool      `json:"retryable"`
}

// Result is the caller-facing outcome of one processed event.
type Result struct {
	Success   bool             `json:"success"`
	EventType domain.EventKind `json:"event_type"`
	Data      map[string]any   `json:"data"`
	Error     *ResultError     `json:"error"`
	// State is the committed state on success, or the unchanged loaded state on a consistency failure.
	State *domain.GraphState `json:"-"`
	// Err keeps the underlying error for in-process callers.
	Err error `json:"-"`
}

// Duplicate reports whether the event was recognised as a duplicate delivery.
func (r Result) Duplicate() bool {
	dup, _ := r.Data["duplicate"].(bool)
	return dup
}

func successResult(kind domain.EventKind, data map[string]any, state domain.GraphState) Result {
	if data == nil {
		data = map[string]any{}
	}
	return Result{Success: true, EventType: kind, Data: data, State: &state}
}

func failureResult(kind domain.EventKind, err error) Result {
	code, retryable := Classify(err)
	out := Result{
		Success:   false,
		EventType: kind,
		Data:      map[string]any{},
		Error:     &ResultError{Code: code, Message: err.Error(), Retryable: retryable},
		Err:       err,
	}
	var fieldErr *domain.FieldError
	if errors.As(err, &fieldErr) {
		out.Error.Field = fieldErr.Field
	}
	var stateErr *domain.StateError
	if errors.As(err, &stateErr) {
		out.Data["reason"] = stateErr.Code
	}
	return out
}

// Classify maps an error onto its stable code and whether a retry may succeed.
func Classify(err error) (ErrorCode, bool) {
	switch {
	case err == nil:
		return "", false
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrUnknownEventKind):
		return CodeValidation, false
	case errors.Is(err, domain.ErrStateConsistency):
		return CodeStateConsistency, false
	case errors.Is(err, ErrVersionConflict), errors.Is(err, ErrDuplicateLedgerEntry):
		return CodeStateConflict, true
	case errors.Is(err, ErrCollaboratorDown),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return CodeCollaboratorUnavailable, true
	default:
		return CodeInternal, false
	}
}
