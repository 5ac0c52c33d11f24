package common

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hylla/nudge/internal/app"
	"github.com/hylla/nudge/internal/domain"
)

// AppServiceAdapter maps transport contracts onto app.Service.
type AppServiceAdapter struct {
	service *app.Service
	now     func() time.Time
}

// NewAppServiceAdapter builds one common adapter over an app.Service instance.
func NewAppServiceAdapter(service *app.Service) *AppServiceAdapter {
	return &AppServiceAdapter{service: service, now: time.Now}
}

// ProcessEvent decodes one wire envelope and runs it through the orchestrator.
// A missing trace id gets a fresh UUID; a missing timestamp gets the receive time.
func (a *AppServiceAdapter) ProcessEvent(ctx context.Context, env domain.EventEnvelope) (EventResponse, error) {
	if a == nil || a.service == nil {
		return EventResponse{}, fmt.Errorf("app service adapter is not configured: %w", ErrUnavailable)
	}
	env = normalizeEnvelope(env, a.now)
	ev, err := domain.DecodeEvent(env)
	if err != nil {
		return EventResponse{}, fmt.Errorf("decode event: %w", errors.Join(ErrInvalidRequest, err))
	}
	res := a.service.Process(ctx, ev)
	out := EventResponse{Result: res}
	if res.State != nil {
		out.Phase = res.State.Phase
		out.Version = res.State.Version
	}
	return out, nil
}

// UserState returns the persisted state for one user.
func (a *AppServiceAdapter) UserState(ctx context.Context, userID string) (app.UserView, error) {
	if a == nil || a.service == nil {
		return app.UserView{}, fmt.Errorf("app service adapter is not configured: %w", ErrUnavailable)
	}
	view, err := a.service.UserState(ctx, userID)
	if err != nil {
		return app.UserView{}, mapAppError("user state", err)
	}
	return view, nil
}

// Ledger returns the verified XP ledger for one user.
func (a *AppServiceAdapter) Ledger(ctx context.Context, userID string) (app.LedgerReport, error) {
	if a == nil || a.service == nil {
		return app.LedgerReport{}, fmt.Errorf("app service adapter is not configured: %w", ErrUnavailable)
	}
	report, err := a.service.Ledger(ctx, userID)
	if err != nil {
		return app.LedgerReport{}, mapAppError("ledger", err)
	}
	return report, nil
}

// History returns the newest committed events for one user.
func (a *AppServiceAdapter) History(ctx context.Context, userID string, limit int) (HistoryResponse, error) {
	if a == nil || a.service == nil {
		return HistoryResponse{}, fmt.Errorf("app service adapter is not configured: %w", ErrUnavailable)
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	entries, err := a.service.History(ctx, userID, limit)
	if err != nil {
		return HistoryResponse{}, mapAppError("history", err)
	}
	if entries == nil {
		entries = []app.EventLogEntry{}
	}
	return HistoryResponse{UserID: strings.TrimSpace(userID), Entries: entries}, nil
}

// normalizeEnvelope fills boundary defaults before decoding.
func normalizeEnvelope(env domain.EventEnvelope, now func() time.Time) domain.EventEnvelope {
	env.TraceID = strings.TrimSpace(env.TraceID)
	if env.TraceID == "" {
		env.TraceID = uuid.NewString()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = now().UTC()
	}
	return env
}

// mapAppError maps app errors into transport-visible sentinels.
func mapAppError(operation string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrInvalidRequest, err))
	case errors.Is(err, app.ErrHistoryUnsupported), errors.Is(err, app.ErrCatalogUnsupported):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrNotImplemented, err))
	case errors.Is(err, app.ErrCollaboratorDown),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrUnavailable, err))
	default:
		return fmt.Errorf("%s: %w", operation, err)
	}
}
