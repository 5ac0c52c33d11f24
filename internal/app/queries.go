package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hylla/nudge/internal/domain"
)

// CatalogStore seeds candidates and profiles. Only local tooling writes through it.
type CatalogStore interface {
	UpsertCandidate(context.Context, string, domain.TaskCandidate) error
	SaveProfile(context.Context, domain.UserProfile) error
}

// ErrCatalogUnsupported and ErrHistoryUnsupported report optional store capabilities that are missing.
var (
	ErrCatalogUnsupported = errors.New("store does not support catalog writes")
	ErrHistoryUnsupported = errors.New("store does not keep an event log")
)

// UserView is a read-only snapshot of one user.
type UserView struct {
	State        domain.GraphState        `json:"state"`
	Gamification domain.GamificationState `json:"gamification"`
}

// LedgerReport is the user's ledger plus its verification outcome.
type LedgerReport struct {
	Entries      []domain.XpLedgerEntry   `json:"entries"`
	Gamification domain.GamificationState `json:"gamification"`
	Verified     bool                     `json:"verified"`
	Problem      string                   `json:"problem,omitempty"`
}

// UserState loads the persisted state and gamification for userID.
func (s *Service) UserState(ctx context.Context, userID string) (UserView, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UserView{}, &domain.FieldError{Field: "user_id", Err: domain.ErrInvalidUserID}
	}
	in, err := s.load(ctx, userID, false)
	if err != nil {
		return UserView{}, err
	}
	return UserView{State: in.state, Gamification: in.game}, nil
}

// Ledger returns the user's ledger and checks that it sums to the stored total.
func (s *Service) Ledger(ctx context.Context, userID string) (LedgerReport, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return LedgerReport{}, &domain.FieldError{Field: "user_id", Err: domain.ErrInvalidUserID}
	}
	in, err := s.load(ctx, userID, false)
	if err != nil {
		return LedgerReport{}, err
	}
	report := LedgerReport{
		Entries:      in.entries,
		Gamification: in.game,
		Verified:     true,
	}
	if report.Entries == nil {
		report.Entries = []domain.XpLedgerEntry{}
	}
	if err := VerifyLedger(in.entries, in.game); err != nil {
		report.Verified = false
		report.Problem = err.Error()
	}
	return report, nil
}

// AddCandidate validates and stores one task candidate for userID.
func (s *Service) AddCandidate(ctx context.Context, userID string, in domain.TaskCandidateInput) (domain.TaskCandidate, error) {
	catalog, ok := s.store.(CatalogStore)
	if !ok {
		return domain.TaskCandidate{}, ErrCatalogUnsupported
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.TaskCandidate{}, &domain.FieldError{Field: "user_id", Err: domain.ErrInvalidUserID}
	}
	candidate, err := domain.NewTaskCandidate(in)
	if err != nil {
		return domain.TaskCandidate{}, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()
	if err := catalog.UpsertCandidate(ctx, userID, candidate); err != nil {
		return domain.TaskCandidate{}, storageError("upsert candidate", err)
	}
	return candidate, nil
}

// SaveProfile validates and stores the learned profile.
func (s *Service) SaveProfile(ctx context.Context, profile domain.UserProfile) error {
	catalog, ok := s.store.(CatalogStore)
	if !ok {
		return ErrCatalogUnsupported
	}
	profile.UserID = strings.TrimSpace(profile.UserID)
	if profile.UserID == "" {
		return &domain.FieldError{Field: "user_id", Err: domain.ErrInvalidUserID}
	}
	if profile.OptimalSessionMinutes < 0 {
		return &domain.FieldError{Field: "optimal_session_minutes", Err: domain.ErrInvalidMinutes}
	}
	if _, err := domain.ResolveLocation(profile.Timezone); err != nil {
		return &domain.FieldError{Field: "timezone", Err: err}
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()
	if err := catalog.SaveProfile(ctx, profile); err != nil {
		return storageError("save profile", err)
	}
	return nil
}

// History returns up to limit committed events for userID, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]EventLogEntry, error) {
	history, ok := s.store.(HistoryStore)
	if !ok {
		return nil, ErrHistoryUnsupported
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, &domain.FieldError{Field: "user_id", Err: domain.ErrInvalidUserID}
	}
	if limit <= 0 {
		limit = 20
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()
	entries, err := history.ListEventLog(ctx, userID, limit)
	if err != nil {
		return nil, storageError("list event log", err)
	}
	return entries, nil
}
