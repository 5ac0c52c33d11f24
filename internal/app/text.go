package app

import (
	"fmt"
	"strings"
)

// Fact keys understood by FallbackText and the text generators.
const (
	FactTaskTitle    = "task_title"
	FactReason       = "reason"
	FactMode         = "mode"
	FactStreak       = "streak"
	FactLevel        = "level"
	FactCompleted    = "completed_count"
	FactXPToday      = "xp_today"
	FactStuckCount   = "stuck_episodes"
	FactResolved     = "resolved_episodes"
	FactPhase        = "phase"
	FactIntervention = "intervention"
)

// FallbackText returns deterministic copy for req. It is used whenever the generator
// is missing, slow or failing, so every field it reads may be empty.
func FallbackText(req TextRequest) string {
	f := req.Facts
	switch req.Purpose {
	case TextCoaching:
		title := orDefault(f[FactTaskTitle], "this task")
		if reason := f[FactReason]; reason != "" {
			return fmt.Sprintf("Next up: %s (%s). Start with the first small step.", title, reason)
		}
		return fmt.Sprintf("Next up: %s. Start with the first small step.", title)
	case TextNoTask:
		return "Nothing fits right now. Take a short break or check in again to adjust your plan."
	case TextStuckCoach:
		return "You've hit this wall a few times. Write down what is blocking you, then ask for help or park the task for later."
	case TextDayInsight:
		return fmt.Sprintf("Day wrapped: %s task(s) done, %s XP earned. Streak: %s day(s).",
			orDefault(f[FactCompleted], "0"), orDefault(f[FactXPToday], "0"), orDefault(f[FactStreak], "0"))
	case TextMotivation:
		if streak := f[FactStreak]; streak != "" && streak != "0" {
			return fmt.Sprintf("You're on a %s-day streak. Keep it going.", streak)
		}
		return "Welcome back. One small task is all it takes to get going."
	default:
		return ""
	}
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
