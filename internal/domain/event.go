package domain

import (
	"slices"
	"strings"
	"time"
)

// EventKind identifies one lifecycle event variant.
type EventKind string

// EventKind values.
const (
	EventAppOpen          EventKind = "app_open"
	EventCheckInSubmitted EventKind = "check_in_submitted"
	EventDoNext           EventKind = "do_next"
	EventDoAction         EventKind = "do_action"
	EventDayEnd           EventKind = "day_end"
)

// EventKinds returns every supported kind in canonical order.
func EventKinds() []EventKind {
	return []EventKind{EventAppOpen, EventCheckInSubmitted, EventDoNext, EventDoAction, EventDayEnd}
}

// Action is the verb carried by a DoAction event.
type Action string

// Action values.
const (
	ActionStart    Action = "start"
	ActionPause    Action = "pause"
	ActionComplete Action = "complete"
	ActionStuck    Action = "stuck"
)

var validActions = []Action{ActionStart, ActionPause, ActionComplete, ActionStuck}

// IsValidAction reports whether a is a supported action.
func IsValidAction(a Action) bool {
	return slices.Contains(validActions, a)
}

// Energy bounds for check-ins.
const (
	MinEnergyLevel = 1
	MaxEnergyLevel = 10
)

// EventMeta carries the fields shared by every event variant.
type EventMeta struct {
	UserID    string
	Timestamp time.Time
	TraceID   string
}

// Event is the sealed union of lifecycle events processed by the orchestrator.
type Event interface {
	Kind() EventKind
	Meta() EventMeta
	isEvent()
}

// AppOpen is sent when the user opens the app.
type AppOpen struct {
	EventMeta
}

// CheckInSubmitted carries the daily check-in.
type CheckInSubmitted struct {
	EventMeta
	EnergyLevel int
	Mood        string
	FocusAreas  []string
}

// DoNext asks for the single best task to work on next.
type DoNext struct {
	EventMeta
}

// DoAction reports a task lifecycle action. Reason is only meaningful for stuck.
type DoAction struct {
	EventMeta
	Action Action
	TaskID string
	Reason string
}

// DayEnd closes the user's day.
type DayEnd struct {
	EventMeta
}

func (AppOpen) Kind() EventKind          { return EventAppOpen }
func (CheckInSubmitted) Kind() EventKind { return EventCheckInSubmitted }
func (DoNext) Kind() EventKind           { return EventDoNext }
func (DoAction) Kind() EventKind         { return EventDoAction }
func (DayEnd) Kind() EventKind           { return EventDayEnd }

// Meta returns the shared event fields.
func (m EventMeta) Meta() EventMeta { return m }

func (AppOpen) isEvent()          {}
func (CheckInSubmitted) isEvent() {}
func (DoNext) isEvent()           {}
func (DoAction) isEvent()         {}
func (DayEnd) isEvent()           {}

// NewEventMeta normalizes shared event fields.
func NewEventMeta(userID string, ts time.Time, traceID string) EventMeta {
	return EventMeta{
		UserID:    strings.TrimSpace(userID),
		Timestamp: ts.UTC(),
		TraceID:   strings.TrimSpace(traceID),
	}
}

// NewCheckIn builds a normalized check-in event. Validation happens in ValidateEvent.
func NewCheckIn(meta EventMeta, energy int, mood string, focusAreas []string) CheckInSubmitted {
	return CheckInSubmitted{
		EventMeta:   meta,
		EnergyLevel: energy,
		Mood:        strings.TrimSpace(mood),
		FocusAreas:  normalizeTags(focusAreas),
	}
}

// NewDoAction builds a normalized action event.
func NewDoAction(meta EventMeta, action Action, taskID, reason string) DoAction {
	return DoAction{
		EventMeta: meta,
		Action:    Action(strings.ToLower(strings.TrimSpace(string(action)))),
		TaskID:    strings.TrimSpace(taskID),
		Reason:    strings.TrimSpace(reason),
	}
}

// ValidateEvent rejects malformed events before any state is loaded.
func ValidateEvent(ev Event) error {
	if ev == nil {
		return fieldError("type", ErrUnknownEventKind)
	}
	meta := ev.Meta()
	if strings.TrimSpace(meta.UserID) == "" {
		return fieldError("user_id", ErrInvalidUserID)
	}
	if meta.Timestamp.IsZero() {
		return fieldError("timestamp", ErrInvalidTimestamp)
	}
	switch e := ev.(type) {
	case AppOpen, DoNext, DayEnd:
		return nil
	case CheckInSubmitted:
		if e.EnergyLevel < MinEnergyLevel || e.EnergyLevel > MaxEnergyLevel {
			return fieldError("energy_level", ErrInvalidEnergyLevel)
		}
		return nil
	case DoAction:
		if !IsValidAction(e.Action) {
			return fieldError("action", ErrUnknownAction)
		}
		if strings.TrimSpace(e.TaskID) == "" {
			return fieldError("task_id", ErrInvalidID)
		}
		return nil
	default:
		return fieldError("type", ErrUnknownEventKind)
	}
}

// normalizeTags lowercases, trims, deduplicates and sorts tag-like values.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := map[string]struct{}{}
	for _, raw := range tags {
		tag := strings.ToLower(strings.TrimSpace(raw))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	slices.Sort(out)
	return out
}
