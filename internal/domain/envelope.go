package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventEnvelope is the JSON wire form of an Event. Type selects the variant.
type EventEnvelope struct {
	Type        EventKind `json:"type"`
	UserID      string    `json:"user_id"`
	Timestamp   time.Time `json:"timestamp"`
	TraceID     string    `json:"trace_id,omitempty"`
	EnergyLevel *int      `json:"energy_level,omitempty"`
	Mood        string    `json:"mood,omitempty"`
	FocusAreas  []string  `json:"focus_areas,omitempty"`
	Action      Action    `json:"action,omitempty"`
	TaskID      string    `json:"task_id,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// DecodeEvent maps one envelope onto its concrete event variant.
func DecodeEvent(env EventEnvelope) (Event, error) {
	meta := NewEventMeta(env.UserID, env.Timestamp, env.TraceID)
	switch EventKind(strings.ToLower(strings.TrimSpace(string(env.Type)))) {
	case EventAppOpen:
		return AppOpen{EventMeta: meta}, nil
	case EventCheckInSubmitted:
		if env.EnergyLevel == nil {
			return nil, fieldError("energy_level", ErrInvalidEnergyLevel)
		}
		return NewCheckIn(meta, *env.EnergyLevel, env.Mood, env.FocusAreas), nil
	case EventDoNext:
		return DoNext{EventMeta: meta}, nil
	case EventDoAction:
		return NewDoAction(meta, env.Action, env.TaskID, env.Reason), nil
	case EventDayEnd:
		return DayEnd{EventMeta: meta}, nil
	default:
		return nil, fieldError("type", fmt.Errorf("%w: %q", ErrUnknownEventKind, env.Type))
	}
}

// EncodeEvent converts an event into its wire envelope.
func EncodeEvent(ev Event) EventEnvelope {
	meta := ev.Meta()
	env := EventEnvelope{
		Type:      ev.Kind(),
		UserID:    meta.UserID,
		Timestamp: meta.Timestamp,
		TraceID:   meta.TraceID,
	}
	switch e := ev.(type) {
	case CheckInSubmitted:
		energy := e.EnergyLevel
		env.EnergyLevel = &energy
		env.Mood = e.Mood
		env.FocusAreas = append([]string(nil), e.FocusAreas...)
	case DoAction:
		env.Action = e.Action
		env.TaskID = e.TaskID
		env.Reason = e.Reason
	}
	return env
}

// ParseEventJSON decodes raw JSON into a concrete event.
func ParseEventJSON(raw []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fieldError("body", fmt.Errorf("decode event: %w", err))
	}
	return DecodeEvent(env)
}
