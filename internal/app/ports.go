package app

import (
	"context"
	"time"

	"github.com/hylla/nudge/internal/domain"
)

// CandidateFilter narrows ListCandidates.
type CandidateFilter struct {
	IncludeCompleted bool
}

// Commit is the single logical write produced by one processed event.
type Commit struct {
	UserID           string
	ExpectedVersion  int64
	State            domain.GraphState
	Gamification     domain.GamificationState
	LedgerEntries    []domain.XpLedgerEntry
	CompletedTaskIDs []string
	// Candidates and Profile are upserted before completions are marked. Only snapshot import sets them.
	Candidates  []domain.TaskCandidate
	Profile     *domain.UserProfile
	CommittedAt time.Time
}

// Store is the storage collaborator. Not-found reads return ErrNotFound; any other error is transient.
type Store interface {
	LoadState(context.Context, string) (domain.GraphState, error)
	ListCandidates(context.Context, string, CandidateFilter) ([]domain.TaskCandidate, error)
	LoadGamificationState(context.Context, string) (domain.GamificationState, error)
	ListLedgerEntries(context.Context, string) ([]domain.XpLedgerEntry, error)
	LoadProfile(context.Context, string) (domain.UserProfile, error)
	// CommitEvent persists state, gamification, ledger entries and any catalog rows atomically.
	CommitEvent(context.Context, Commit) error
}

// TextPurpose selects the kind of copy requested from a TextGenerator.
type TextPurpose string

// TextPurpose values.
const (
	TextMotivation TextPurpose = "motivation"
	TextCoaching   TextPurpose = "coaching"
	TextStuckCoach TextPurpose = "stuck_coach"
	TextDayInsight TextPurpose = "day_insight"
	TextNoTask     TextPurpose = "no_task"
)

// TextRequest carries the facts a generator may phrase. Facts never feed back into state.
type TextRequest struct {
	Purpose TextPurpose
	UserID  string
	TraceID string
	Facts   map[string]string
}

// TextGenerator produces best-effort coaching copy.
type TextGenerator interface {
	Generate(context.Context, TextRequest) (string, error)
}

// Span is one fire-and-forget tracing record.
type Span struct {
	TraceID  string
	Name     string
	UserID   string
	Start    time.Time
	Duration time.Duration
	Attrs    map[string]string
	Err      string
}

// Tracer exports spans. Emit must not block.
type Tracer interface {
	Emit(Span)
}

// EventLogEntry is one committed event in a user's history.
type EventLogEntry struct {
	Seq         int64              `json:"seq"`
	UserID      string             `json:"user_id"`
	Version     int64              `json:"version"`
	Phase       domain.Phase       `json:"phase"`
	Event       domain.EventRecord `json:"event"`
	CommittedAt time.Time          `json:"committed_at"`
}

// HistoryStore lists committed events, newest first.
type HistoryStore interface {
	ListEventLog(context.Context, string, int) ([]EventLogEntry, error)
}
