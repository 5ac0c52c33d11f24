package domain

import (
	"slices"
	"strings"
	"time"
)

// Priority ranks task importance.
type Priority string

// Priority values, lowest first.
const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var validPriorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

// IsValidPriority reports whether p is a known priority.
func IsValidPriority(p Priority) bool {
	return slices.Contains(validPriorities, p)
}

// Rank returns the ordinal of p; unknown priorities rank below low.
func (p Priority) Rank() int {
	return slices.Index(validPriorities, p)
}

// AtLeast reports whether p ranks at or above other.
func (p Priority) AtLeast(other Priority) bool {
	return p.Rank() >= other.Rank()
}

// TaskCandidate is the read-only projection of a task supplied by storage.
type TaskCandidate struct {
	ID               string     `json:"id"`
	Title            string     `json:"title,omitempty"`
	EstimatedMinutes int        `json:"estimated_minutes"`
	Priority         Priority   `json:"priority"`
	Tags             []string   `json:"tags,omitempty"`
	Deadline         *time.Time `json:"deadline,omitempty"`
	DependsOn        string     `json:"depends_on,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// TaskCandidateInput holds values for NewTaskCandidate.
type TaskCandidateInput struct {
	ID               string
	Title            string
	EstimatedMinutes int
	Priority         Priority
	Tags             []string
	Deadline         *time.Time
	DependsOn        string
}

// NewTaskCandidate validates and normalizes one candidate.
func NewTaskCandidate(in TaskCandidateInput) (TaskCandidate, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.Title = strings.TrimSpace(in.Title)
	in.DependsOn = strings.TrimSpace(in.DependsOn)
	if in.ID == "" {
		return TaskCandidate{}, ErrInvalidID
	}
	if in.EstimatedMinutes < 0 {
		return TaskCandidate{}, ErrInvalidMinutes
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !IsValidPriority(in.Priority) {
		return TaskCandidate{}, ErrInvalidPriority
	}
	if in.DependsOn == in.ID {
		in.DependsOn = ""
	}
	return TaskCandidate{
		ID:               in.ID,
		Title:            in.Title,
		EstimatedMinutes: in.EstimatedMinutes,
		Priority:         in.Priority,
		Tags:             normalizeTags(in.Tags),
		Deadline:         normalizeDeadline(in.Deadline),
		DependsOn:        in.DependsOn,
	}, nil
}

// Completed reports whether the candidate has been completed.
func (c TaskCandidate) Completed() bool {
	return c.CompletedAt != nil
}

// HasAnyTag reports whether the candidate carries any tag in set.
func (c TaskCandidate) HasAnyTag(set []string) bool {
	for _, tag := range c.Tags {
		if slices.Contains(set, tag) {
			return true
		}
	}
	return false
}

// FindCandidate returns the candidate with id, if present.
func FindCandidate(candidates []TaskCandidate, id string) (TaskCandidate, bool) {
	idx := slices.IndexFunc(candidates, func(c TaskCandidate) bool { return c.ID == id })
	if idx < 0 {
		return TaskCandidate{}, false
	}
	return candidates[idx], true
}

func normalizeDeadline(deadline *time.Time) *time.Time {
	if deadline == nil {
		return nil
	}
	ts := deadline.UTC().Truncate(time.Second)
	return &ts
}
