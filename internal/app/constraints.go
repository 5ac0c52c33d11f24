package app

import (
	"slices"

	"github.com/hylla/nudge/internal/domain"
)

// Constraint derivation defaults.
const (
	DefaultMaxMinutes    = 60
	DefaultEnergyLevel   = 5
	deepEnergyThreshold  = 7
	lightEnergyThreshold = 3
	focusScattered       = "scattered"
)

// builtinAvoidTags maps aversive focus areas onto the task tags they rule out.
var builtinAvoidTags = map[string][]string{
	focusScattered: {"deep-focus-required"},
	"tired":        {"deep-focus-required"},
	"anxious":      {"high-stakes"},
}

// ConstraintInput holds the inputs of DeriveConstraints.
type ConstraintInput struct {
	EnergyLevel       int
	FocusAreas        []string
	Profile           domain.UserProfile
	Candidates        []domain.TaskCandidate
	DefaultMaxMinutes int
}

// DeriveConstraints converts a check-in plus learned profile into selection constraints.
// The result depends only on the input, so repeated calls are identical.
func DeriveConstraints(in ConstraintInput) domain.SelectionConstraints {
	out := domain.SelectionConstraints{
		MaxMinutes:    maxMinutesFor(in.Profile, in.DefaultMaxMinutes),
		Mode:          modeFor(in.EnergyLevel, in.FocusAreas),
		CurrentEnergy: in.EnergyLevel,
		AvoidTags:     avoidTagsFor(in.FocusAreas, in.Profile),
	}
	if in.EnergyLevel >= deepEnergyThreshold && hasHighPriorityCandidate(in.Candidates) {
		prefer := domain.PriorityHigh
		out.PreferPriority = &prefer
	}
	return out
}

// DefaultConstraints are used when a user asks for a task before checking in.
func DefaultConstraints(profile domain.UserProfile, defaultMaxMinutes int) domain.SelectionConstraints {
	return domain.SelectionConstraints{
		MaxMinutes:    maxMinutesFor(profile, defaultMaxMinutes),
		Mode:          domain.ModeBalanced,
		CurrentEnergy: DefaultEnergyLevel,
		AvoidTags:     []string{},
	}
}

func modeFor(energy int, focusAreas []string) domain.Mode {
	switch {
	case energy <= lightEnergyThreshold:
		return domain.ModeLight
	case energy >= deepEnergyThreshold && !slices.Contains(focusAreas, focusScattered):
		return domain.ModeDeep
	default:
		return domain.ModeBalanced
	}
}

func maxMinutesFor(profile domain.UserProfile, fallback int) int {
	if profile.OptimalSessionMinutes > 0 {
		return profile.OptimalSessionMinutes
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultMaxMinutes
}

func avoidTagsFor(focusAreas []string, profile domain.UserProfile) []string {
	out := []string{}
	for _, area := range focusAreas {
		tags, ok := profile.AvoidTagsByFocus[area]
		if !ok {
			tags = builtinAvoidTags[area]
		}
		for _, tag := range tags {
			if !slices.Contains(out, tag) {
				out = append(out, tag)
			}
		}
	}
	slices.Sort(out)
	return out
}

func hasHighPriorityCandidate(candidates []domain.TaskCandidate) bool {
	for _, c := range candidates {
		if c.Completed() {
			continue
		}
		if c.Priority.AtLeast(domain.PriorityHigh) {
			return true
		}
	}
	return false
}
