package domain

import "slices"

// Mode is the work intensity band derived from a check-in.
type Mode string

// Mode values.
const (
	ModeLight    Mode = "light"
	ModeBalanced Mode = "balanced"
	ModeDeep     Mode = "deep"
)

// IsValidMode reports whether m is a known mode.
func IsValidMode(m Mode) bool {
	switch m {
	case ModeLight, ModeBalanced, ModeDeep:
		return true
	default:
		return false
	}
}

// SelectionConstraints govern candidate eligibility and scoring until the next check-in or day end.
type SelectionConstraints struct {
	MaxMinutes     int       `json:"max_minutes"`
	Mode           Mode      `json:"mode"`
	CurrentEnergy  int       `json:"current_energy"`
	AvoidTags      []string  `json:"avoid_tags,omitempty"`
	PreferPriority *Priority `json:"prefer_priority,omitempty"`
}

// Validate checks constraint ranges.
func (c SelectionConstraints) Validate() error {
	if c.MaxMinutes < 0 {
		return ErrInvalidMinutes
	}
	if !IsValidMode(c.Mode) {
		return ErrInvalidMode
	}
	if c.CurrentEnergy < MinEnergyLevel || c.CurrentEnergy > MaxEnergyLevel {
		return ErrInvalidEnergyLevel
	}
	if c.PreferPriority != nil && !IsValidPriority(*c.PreferPriority) {
		return ErrInvalidPriority
	}
	return nil
}

// Clone returns a deep copy.
func (c SelectionConstraints) Clone() SelectionConstraints {
	out := c
	out.AvoidTags = slices.Clone(c.AvoidTags)
	if c.PreferPriority != nil {
		p := *c.PreferPriority
		out.PreferPriority = &p
	}
	return out
}

// UserProfile is the learned per-user profile. The zero value is a valid empty profile.
type UserProfile struct {
	UserID                string              `json:"user_id"`
	OptimalSessionMinutes int                 `json:"optimal_session_minutes,omitempty"`
	Timezone              string              `json:"timezone,omitempty"`
	AvoidTagsByFocus      map[string][]string `json:"avoid_tags_by_focus,omitempty"`
}
