package domain

import (
	"strings"
	"time"
	_ "time/tzdata"
)

// LedgerAction names an XP-earning occurrence.
type LedgerAction string

// LedgerAction values.
const (
	LedgerActionCheckIn       LedgerAction = "check_in"
	LedgerActionTaskCompleted LedgerAction = "task_completed"
	LedgerActionStuckResolved LedgerAction = "stuck_resolved"
	LedgerActionDayEnd        LedgerAction = "day_end"
)

// GamificationState is derived from the ledger; TotalXP always equals the ledger sum.
type GamificationState struct {
	UserID           string `json:"user_id"`
	TotalXP          int    `json:"total_xp"`
	Level            int    `json:"level"`
	CurrentStreak    int    `json:"current_streak"`
	LongestStreak    int    `json:"longest_streak"`
	LastActivityDate string `json:"last_activity_date,omitempty"`
}

// NewGamificationState returns the starting state for userID.
func NewGamificationState(userID string) GamificationState {
	return GamificationState{UserID: strings.TrimSpace(userID), Level: 1}
}

// XpLedgerEntry is one append-only XP transaction.
type XpLedgerEntry struct {
	ID            string       `json:"id"`
	UserID        string       `json:"user_id"`
	Action        LedgerAction `json:"action"`
	XPGained      int          `json:"xp_gained"`
	TotalXPAfter  int          `json:"total_xp_after"`
	SourceTaskID  string       `json:"source_task_id,omitempty"`
	OccurrenceKey string       `json:"occurrence_key"`
	Timestamp     time.Time    `json:"timestamp"`
}

// IdempotencyKey returns the tuple that identifies one real-world occurrence.
func (e XpLedgerEntry) IdempotencyKey() string {
	return LedgerKey(e.UserID, e.Action, e.OccurrenceKey)
}

// LedgerKey composes the ledger idempotency key.
func LedgerKey(userID string, action LedgerAction, occurrence string) string {
	return userID + "\x00" + string(action) + "\x00" + occurrence
}

// LevelThreshold returns the total XP required to reach level n (level 1 needs 0).
func LevelThreshold(n int) int {
	if n <= 1 {
		return 0
	}
	return 50 * n * (n - 1)
}

// LevelForXP maps total XP onto the fixed step curve.
func LevelForXP(total int) int {
	level := 1
	for LevelThreshold(level+1) <= total {
		level++
	}
	return level
}

// DateKey formats t as a calendar date in loc.
func DateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(time.DateOnly)
}

// ResolveLocation loads the IANA timezone name, defaulting to UTC when empty.
func ResolveLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, ErrInvalidTimezone
	}
	return loc, nil
}
