package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/hylla/nudge/internal/domain"
)

// XPTable configures awarded amounts.
type XPTable struct {
	CheckIn           int
	TaskCompletedBase int
	TaskCompletedCap  int
	StuckResolved     int
	DayEndPerStreak   int
	DayEndCap         int
}

// DefaultXPTable returns the built-in award amounts.
func DefaultXPTable() XPTable {
	return XPTable{
		CheckIn:           5,
		TaskCompletedBase: 20,
		TaskCompletedCap:  40,
		StuckResolved:     10,
		DayEndPerStreak:   5,
		DayEndCap:         50,
	}
}

// TaskCompleted returns the award for completing a task of the given estimate.
func (t XPTable) TaskCompleted(estimatedMinutes int) int {
	return min(t.TaskCompletedBase+max(estimatedMinutes, 0)/5, t.TaskCompletedCap)
}

// DayEnd returns the streak bonus.
func (t XPTable) DayEnd(streak int) int {
	return min(t.DayEndPerStreak*max(streak, 0), t.DayEndCap)
}

// Award is one request to append XP.
type Award struct {
	UserID       string
	Action       domain.LedgerAction
	Amount       int
	SourceTaskID string
	// OccurrenceKey identifies the real-world occurrence; defaults to SourceTaskID.
	OccurrenceKey string
	At            time.Time
}

// Ledger applies awards for one user on top of the loaded ledger. It is not safe for concurrent use;
// the per-user lock makes it the single writer.
type Ledger struct {
	state    domain.GamificationState
	keys     map[string]struct{}
	appended []domain.XpLedgerEntry
	idGen    IDGenerator
}

// NewLedger builds a ledger over the persisted state and entries.
func NewLedger(state domain.GamificationState, entries []domain.XpLedgerEntry, idGen IDGenerator) *Ledger {
	if state.Level < 1 {
		state.Level = 1
	}
	keys := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		keys[e.IdempotencyKey()] = struct{}{}
	}
	return &Ledger{state: state, keys: keys, idGen: idGen}
}

// ApplyEvent appends one award unless the same occurrence is already recorded.
// It reports whether a new entry was appended.
func (l *Ledger) ApplyEvent(award Award) (domain.GamificationState, bool, error) {
	award.UserID = strings.TrimSpace(award.UserID)
	award.SourceTaskID = strings.TrimSpace(award.SourceTaskID)
	if award.OccurrenceKey == "" {
		award.OccurrenceKey = award.SourceTaskID
	}
	if award.UserID == "" || award.Action == "" || award.OccurrenceKey == "" {
		return l.state, false, ErrInvalidAward
	}
	if l.state.UserID == "" {
		l.state.UserID = award.UserID
	}
	if award.UserID != l.state.UserID {
		return l.state, false, fmt.Errorf("award for %q on ledger of %q: %w", award.UserID, l.state.UserID, ErrInvalidAward)
	}
	key := domain.LedgerKey(award.UserID, award.Action, award.OccurrenceKey)
	if _, ok := l.keys[key]; ok {
		return l.state, false, nil
	}

	// Totals never go negative; the clamped amount is what gets recorded.
	gained := max(award.Amount, -l.state.TotalXP)
	l.state.TotalXP += gained
	l.state.Level = max(l.state.Level, domain.LevelForXP(l.state.TotalXP))

	entry := domain.XpLedgerEntry{
		ID:            l.idGen(),
		UserID:        award.UserID,
		Action:        award.Action,
		XPGained:      gained,
		TotalXPAfter:  l.state.TotalXP,
		SourceTaskID:  award.SourceTaskID,
		OccurrenceKey: award.OccurrenceKey,
		Timestamp:     award.At.UTC(),
	}
	l.keys[key] = struct{}{}
	l.appended = append(l.appended, entry)
	return l.state, true, nil
}

// Has reports whether the occurrence is already on the ledger.
func (l *Ledger) Has(userID string, action domain.LedgerAction, occurrence string) bool {
	_, ok := l.keys[domain.LedgerKey(userID, action, occurrence)]
	return ok
}

// UpdateStreak applies the day-end streak rule for today (YYYY-MM-DD in the user's timezone).
func (l *Ledger) UpdateStreak(today string) domain.GamificationState {
	l.state = NextStreak(l.state, today)
	return l.state
}

// State returns the current gamification state.
func (l *Ledger) State() domain.GamificationState {
	return l.state
}

// Appended returns the entries added through this ledger.
func (l *Ledger) Appended() []domain.XpLedgerEntry {
	return append([]domain.XpLedgerEntry(nil), l.appended...)
}

// NextStreak returns state after a day end on today. Yesterday increments, today is a no-op,
// a stale date is ignored, and any gap resets to one.
func NextStreak(state domain.GamificationState, today string) domain.GamificationState {
	todayDate, err := time.Parse(time.DateOnly, today)
	if err != nil {
		return state
	}
	switch last := state.LastActivityDate; {
	case last == "":
		state.CurrentStreak = 1
	case last == today:
		return state
	case last > today:
		return state
	default:
		lastDate, err := time.Parse(time.DateOnly, last)
		if err == nil && lastDate.AddDate(0, 0, 1).Equal(todayDate) {
			state.CurrentStreak++
		} else {
			state.CurrentStreak = 1
		}
	}
	state.LastActivityDate = today
	state.LongestStreak = max(state.LongestStreak, state.CurrentStreak)
	return state
}

// VerifyLedger recomputes the running total from entries and checks it against every
// snapshot and the gamification state.
func VerifyLedger(entries []domain.XpLedgerEntry, state domain.GamificationState) error {
	running := 0
	for i, e := range entries {
		running += e.XPGained
		if e.TotalXPAfter != running {
			return fmt.Errorf("entry %d (%s) total_xp_after=%d, running sum=%d: %w", i, e.ID, e.TotalXPAfter, running, ErrLedgerMismatch)
		}
	}
	if state.TotalXP != running {
		return fmt.Errorf("state total_xp=%d, ledger sum=%d: %w", state.TotalXP, running, ErrLedgerMismatch)
	}
	return nil
}
