package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Phase is the long-lived per-user orchestration state.
type Phase string

// Phase values. DayEnd always returns the user to PhaseIdle.
const (
	PhaseIdle         Phase = "idle"
	PhaseCheckedIn    Phase = "checked_in"
	PhaseTaskSelected Phase = "task_selected"
	PhaseTaskActive   Phase = "task_active"
	PhasePaused       Phase = "paused"
	PhaseStuck        Phase = "stuck"
	PhaseCompleted    Phase = "completed"
)

// EventRecord is the compact trace of the last processed event kept on GraphState.
type EventRecord struct {
	Kind      EventKind `json:"kind"`
	Action    Action    `json:"action,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RecordOf captures the identifying fields of ev.
func RecordOf(ev Event) EventRecord {
	meta := ev.Meta()
	rec := EventRecord{Kind: ev.Kind(), TraceID: meta.TraceID, Timestamp: meta.Timestamp}
	if a, ok := ev.(DoAction); ok {
		rec.Action = a.Action
		rec.TaskID = a.TaskID
	}
	return rec
}

// ActiveTask is the task currently being done.
type ActiveTask struct {
	TaskID    string    `json:"task_id"`
	StartedAt time.Time `json:"started_at"`
}

// GraphState is the per-user working state threaded through one event.
type GraphState struct {
	UserID          string                `json:"user_id"`
	Phase           Phase                 `json:"phase"`
	LastEvent       *EventRecord          `json:"last_event,omitempty"`
	Mood            *string               `json:"mood,omitempty"`
	EnergyLevel     *int                  `json:"energy_level,omitempty"`
	Constraints     *SelectionConstraints `json:"constraints,omitempty"`
	Candidates      []string              `json:"candidates"`
	SelectedTaskID  string                `json:"selected_task_id,omitempty"`
	ActiveTask      *ActiveTask           `json:"active_task,omitempty"`
	InterventionLog []StuckEpisode        `json:"intervention_log"`
	CompletedToday  []string              `json:"completed_today"`
	SessionDate     string                `json:"session_date,omitempty"`
	Error           *StateError           `json:"error,omitempty"`
	Version         int64                 `json:"version"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// NewGraphState returns the fresh state for a user with no persisted history.
func NewGraphState(userID string) GraphState {
	return GraphState{
		UserID:          strings.TrimSpace(userID),
		Phase:           PhaseIdle,
		Candidates:      []string{},
		InterventionLog: []StuckEpisode{},
		CompletedToday:  []string{},
	}
}

// Clone returns a deep copy used as a handler's working copy.
func (s GraphState) Clone() GraphState {
	out := s
	if s.LastEvent != nil {
		rec := *s.LastEvent
		out.LastEvent = &rec
	}
	if s.Mood != nil {
		mood := *s.Mood
		out.Mood = &mood
	}
	if s.EnergyLevel != nil {
		energy := *s.EnergyLevel
		out.EnergyLevel = &energy
	}
	if s.Constraints != nil {
		c := s.Constraints.Clone()
		out.Constraints = &c
	}
	if s.ActiveTask != nil {
		active := *s.ActiveTask
		out.ActiveTask = &active
	}
	if s.Error != nil {
		stateErr := *s.Error
		out.Error = &stateErr
	}
	out.Candidates = append([]string{}, s.Candidates...)
	out.CompletedToday = append([]string{}, s.CompletedToday...)
	out.InterventionLog = make([]StuckEpisode, 0, len(s.InterventionLog))
	for _, ep := range s.InterventionLog {
		out.InterventionLog = append(out.InterventionLog, ep.Clone())
	}
	return out
}

// Validate checks GraphState invariants.
func (s GraphState) Validate() error {
	if strings.TrimSpace(s.UserID) == "" {
		return ErrInvalidUserID
	}
	if s.EnergyLevel != nil && (*s.EnergyLevel < MinEnergyLevel || *s.EnergyLevel > MaxEnergyLevel) {
		return ErrInvalidEnergyLevel
	}
	if s.Constraints != nil {
		if err := s.Constraints.Validate(); err != nil {
			return fmt.Errorf("constraints: %w", err)
		}
	}
	hasActive := s.ActiveTask != nil
	activePhase := s.Phase == PhaseTaskActive || s.Phase == PhaseStuck
	if hasActive != activePhase {
		return fmt.Errorf("phase %q with active task %t: %w", s.Phase, hasActive, ErrStateConsistency)
	}
	return nil
}

// IsActive reports whether taskID is the active task.
func (s GraphState) IsActive(taskID string) bool {
	return s.ActiveTask != nil && s.ActiveTask.TaskID == taskID
}

// EpisodesFor returns the session's stuck episodes for taskID, oldest first.
func (s GraphState) EpisodesFor(taskID string) []StuckEpisode {
	out := []StuckEpisode{}
	for _, ep := range s.InterventionLog {
		if ep.TaskID == taskID {
			out = append(out, ep)
		}
	}
	return out
}

// ResolveEpisodes stamps every open episode for taskID and returns how many were resolved.
func (s *GraphState) ResolveEpisodes(taskID string, at time.Time) int {
	resolved := 0
	for i := range s.InterventionLog {
		ep := &s.InterventionLog[i]
		if ep.TaskID != taskID || ep.Resolved() {
			continue
		}
		ts := at.UTC()
		ep.ResolvedAt = &ts
		resolved++
	}
	return resolved
}

// MarkCompleted records taskID as completed in this session.
func (s *GraphState) MarkCompleted(taskID string) {
	if !slices.Contains(s.CompletedToday, taskID) {
		s.CompletedToday = append(s.CompletedToday, taskID)
	}
}

// ResetSession clears all session-scoped fields and starts the session for date.
func (s *GraphState) ResetSession(date string) {
	s.Phase = PhaseIdle
	s.Mood = nil
	s.EnergyLevel = nil
	s.Constraints = nil
	s.Candidates = []string{}
	s.SelectedTaskID = ""
	s.ActiveTask = nil
	s.InterventionLog = []StuckEpisode{}
	s.CompletedToday = []string{}
	s.Error = nil
	s.SessionDate = date
}

// RolloverSession starts the session for date without interrupting work in progress.
// The active task, its phase and its open stuck episodes carry over; everything else
// is reset as in ResetSession.
func (s *GraphState) RolloverSession(date string) {
	active, phase := s.ActiveTask, s.Phase
	carried := []StuckEpisode{}
	if active != nil {
		for _, ep := range s.InterventionLog {
			if ep.TaskID == active.TaskID && !ep.Resolved() {
				carried = append(carried, ep.Clone())
			}
		}
	}
	s.ResetSession(date)
	if active == nil {
		return
	}
	s.ActiveTask = active
	s.SelectedTaskID = active.TaskID
	s.InterventionLog = carried
	if phase == PhaseStuck {
		s.Phase = PhaseStuck
	} else {
		s.Phase = PhaseTaskActive
	}
}
