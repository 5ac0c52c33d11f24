package domain

import (
	"slices"
	"time"
)

// InterventionType is the remediation offered for a stuck episode.
type InterventionType string

// InterventionType values, in escalation order after the optional break.
const (
	InterventionBreak     InterventionType = "break"
	InterventionMicrotask InterventionType = "microtask"
	InterventionAltTask   InterventionType = "altTask"
	InterventionCoach     InterventionType = "coach"
)

// IsValidInterventionType reports whether t is known.
func IsValidInterventionType(t InterventionType) bool {
	switch t {
	case InterventionBreak, InterventionMicrotask, InterventionAltTask, InterventionCoach:
		return true
	default:
		return false
	}
}

// Microtask is one bounded step of a decomposed task.
type Microtask struct {
	Description      string `json:"description"`
	EstimatedMinutes int    `json:"estimated_minutes"`
}

// StuckEpisode logs one stuck report. Only ResolvedAt changes after creation.
type StuckEpisode struct {
	TaskID            string           `json:"task_id"`
	Reason            string           `json:"reason"`
	MinutesStuck      int              `json:"minutes_stuck"`
	InterventionType  InterventionType `json:"intervention_type"`
	Microtasks        []Microtask      `json:"microtasks"`
	AlternativeTaskID string           `json:"alternative_task_id,omitempty"`
	ReportedAt        time.Time        `json:"reported_at"`
	ResolvedAt        *time.Time       `json:"resolved_at,omitempty"`
}

// Resolved reports whether the episode has been resolved.
func (e StuckEpisode) Resolved() bool {
	return e.ResolvedAt != nil
}

// Clone returns a deep copy.
func (e StuckEpisode) Clone() StuckEpisode {
	out := e
	out.Microtasks = slices.Clone(e.Microtasks)
	if e.ResolvedAt != nil {
		ts := *e.ResolvedAt
		out.ResolvedAt = &ts
	}
	return out
}

// TotalMinutes sums the microtask estimates.
func (e StuckEpisode) TotalMinutes() int {
	total := 0
	for _, m := range e.Microtasks {
		total += m.EstimatedMinutes
	}
	return total
}
