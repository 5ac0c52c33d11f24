// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"errors"
	"net/http"

	"github.com/hylla/nudge/internal/app"
	"github.com/hylla/nudge/internal/domain"
)

// ErrInvalidRequest reports malformed transport input.
var ErrInvalidRequest = errors.New("invalid request")

// ErrUnavailable reports a storage or runtime collaborator that could not answer in time.
var ErrUnavailable = errors.New("service unavailable")

// ErrNotImplemented reports an optional capability the backing store does not provide.
var ErrNotImplemented = errors.New("not implemented")

// DefaultHistoryLimit bounds history queries that omit a limit.
const DefaultHistoryLimit = 20

// EventResponse is the transport form of one processed event.
type EventResponse struct {
	app.Result
	Phase   domain.Phase `json:"phase,omitempty"`
	Version int64        `json:"version,omitempty"`
}

// HistoryResponse wraps one page of committed events.
type HistoryResponse struct {
	UserID  string              `json:"user_id"`
	Entries []app.EventLogEntry `json:"entries"`
}

// EventService is the app-facing surface shared by the HTTP and MCP transports.
type EventService interface {
	ProcessEvent(context.Context, domain.EventEnvelope) (EventResponse, error)
	UserState(context.Context, string) (app.UserView, error)
	Ledger(context.Context, string) (app.LedgerReport, error)
	History(context.Context, string, int) (HistoryResponse, error)
}

// StatusForResult maps a processed event onto its HTTP status.
func StatusForResult(res app.Result) int {
	if res.Success {
		return http.StatusOK
	}
	if res.Error == nil {
		return http.StatusInternalServerError
	}
	return StatusForCode(res.Error.Code)
}

// StatusForCode maps one error code onto its HTTP status.
func StatusForCode(code app.ErrorCode) int {
	switch code {
	case app.CodeValidation:
		return http.StatusBadRequest
	case app.CodeStateConsistency, app.CodeStateConflict:
		return http.StatusConflict
	case app.CodeCollaboratorUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
