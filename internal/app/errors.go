package app

import "errors"

// ErrNotFound and related errors describe storage and runtime failures.
var (
	ErrNotFound              = errors.New("not found")
	ErrCollaboratorDown      = errors.New("collaborator unavailable")
	ErrVersionConflict       = errors.New("state version conflict")
	ErrDuplicateLedgerEntry  = errors.New("duplicate ledger entry")
	ErrLedgerMismatch        = errors.New("ledger total mismatch")
	ErrInvalidAward          = errors.New("invalid award")
	ErrTextGeneratorDisabled = errors.New("text generator disabled")
)

// ErrorCode is the stable, caller-facing classification of a failed event.
type ErrorCode string

// ErrorCode values.
const (
	CodeValidation              ErrorCode = "validation_error"
	CodeStateConsistency        ErrorCode = "state_consistency_error"
	CodeCollaboratorUnavailable ErrorCode = "collaborator_unavailable"
	CodeStateConflict           ErrorCode = "state_conflict"
	CodeInternal                ErrorCode = "internal_error"
)
