package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hylla/nudge/internal/domain"
)

// SnapshotVersion defines a package constant value.
const SnapshotVersion = "nudge.snapshot.v1"

// ErrSnapshotTargetNotEmpty reports an import into a user that already has history.
var ErrSnapshotTargetNotEmpty = errors.New("snapshot target user already has state")

// Snapshot is a portable copy of one user's orchestration data.
type Snapshot struct {
	Version      string                   `json:"version"`
	ExportedAt   time.Time                `json:"exported_at"`
	UserID       string                   `json:"user_id"`
	State        domain.GraphState        `json:"state"`
	Gamification domain.GamificationState `json:"gamification"`
	Ledger       []domain.XpLedgerEntry   `json:"ledger"`
	Candidates   []domain.TaskCandidate   `json:"candidates"`
	Profile      domain.UserProfile       `json:"profile"`
}

// ExportSnapshot collects everything stored for userID.
func (s *Service) ExportSnapshot(ctx context.Context, userID string) (Snapshot, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Snapshot{}, &domain.FieldError{Field: "user_id", Err: domain.ErrInvalidUserID}
	}
	in, err := s.load(ctx, userID, true)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{
		Version:      SnapshotVersion,
		ExportedAt:   s.clock().UTC(),
		UserID:       userID,
		State:        in.state,
		Gamification: in.game,
		Ledger:       append([]domain.XpLedgerEntry{}, in.entries...),
		Candidates:   append([]domain.TaskCandidate{}, in.candidates...),
		Profile:      in.profile,
	}
	snap.sort()
	return snap, nil
}

// ImportSnapshot restores a snapshot into a user with no persisted state.
func (s *Service) ImportSnapshot(ctx context.Context, snap Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	snap.sort()

	unlock, err := s.locks.Lock(ctx, snap.UserID)
	if err != nil {
		return fmt.Errorf("%w: acquire user lock: %w", ErrCollaboratorDown, err)
	}
	defer unlock()

	current, err := s.load(ctx, snap.UserID, false)
	if err != nil {
		return err
	}
	if current.state.Version != 0 || len(current.entries) > 0 {
		return fmt.Errorf("import %q: %w", snap.UserID, ErrSnapshotTargetNotEmpty)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()
	state := snap.State.Clone()
	state.Version = max(state.Version, 1)
	commit := Commit{
		UserID:          snap.UserID,
		ExpectedVersion: 0,
		State:           state,
		Gamification:    snap.Gamification,
		LedgerEntries:   snap.Ledger,
		Candidates:      snap.Candidates,
		CommittedAt:     s.clock().UTC(),
	}
	if snap.Profile.UserID != "" {
		profile := snap.Profile
		commit.Profile = &profile
	}
	if err := s.store.CommitEvent(ctx, commit); err != nil {
		if errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrDuplicateLedgerEntry) {
			return fmt.Errorf("import commit: %w", err)
		}
		return storageError("import commit", err)
	}
	s.logger.Info("snapshot imported", "user_id", snap.UserID, "ledger_entries", len(snap.Ledger), "candidates", len(snap.Candidates))
	return nil
}

// Validate checks that a snapshot is internally consistent before import.
func (s *Snapshot) Validate() error {
	if s.Version != "" && s.Version != SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version: %q", s.Version)
	}
	s.UserID = strings.TrimSpace(s.UserID)
	if s.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if s.State.UserID != s.UserID {
		return fmt.Errorf("state.user_id %q does not match %q", s.State.UserID, s.UserID)
	}
	if err := s.State.Validate(); err != nil {
		return fmt.Errorf("state: %w", err)
	}
	if s.Gamification.UserID != "" && s.Gamification.UserID != s.UserID {
		return fmt.Errorf("gamification.user_id %q does not match %q", s.Gamification.UserID, s.UserID)
	}
	if s.Profile.UserID != "" && s.Profile.UserID != s.UserID {
		return fmt.Errorf("profile.user_id %q does not match %q", s.Profile.UserID, s.UserID)
	}

	keys := map[string]struct{}{}
	for i, e := range s.Ledger {
		if strings.TrimSpace(e.ID) == "" {
			return fmt.Errorf("ledger[%d].id is required", i)
		}
		if e.UserID != s.UserID {
			return fmt.Errorf("ledger[%d] belongs to %q", i, e.UserID)
		}
		if _, dup := keys[e.IdempotencyKey()]; dup {
			return fmt.Errorf("ledger[%d]: %w", i, ErrDuplicateLedgerEntry)
		}
		keys[e.IdempotencyKey()] = struct{}{}
	}
	if err := VerifyLedger(s.Ledger, s.Gamification); err != nil {
		return err
	}

	ids := map[string]struct{}{}
	for i, c := range s.Candidates {
		if strings.TrimSpace(c.ID) == "" {
			return fmt.Errorf("candidates[%d].id is required", i)
		}
		if !domain.IsValidPriority(c.Priority) {
			return fmt.Errorf("candidates[%d]: %w", i, domain.ErrInvalidPriority)
		}
		if _, dup := ids[c.ID]; dup {
			return fmt.Errorf("duplicate candidate id: %q", c.ID)
		}
		ids[c.ID] = struct{}{}
	}
	return nil
}

// sort orders candidates by id. The ledger keeps its append order.
func (s *Snapshot) sort() {
	slices.SortFunc(s.Candidates, func(a, b domain.TaskCandidate) int {
		return strings.Compare(a.ID, b.ID)
	})
}
