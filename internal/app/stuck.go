package app

import (
	"strings"
	"time"

	"github.com/hylla/nudge/internal/domain"
)

// Stuck detection settings.
const (
	ReasonOversized         = "task likely oversized"
	reasonUnspecified       = "no reason given"
	defaultStuckEstimate    = 30
	firstStepMaxMinutes     = 5
	laterStepMaxMinutes     = 25
	breakEnergyThreshold    = 3
	oversizedEstimateFactor = 2
)

// StuckInput holds the inputs of DetectStuck.
type StuckInput struct {
	TaskID           string
	Reason           string
	MinutesStuck     int
	EstimatedMinutes int
	// PriorEpisodes counts earlier stuck reports for the same task in this session.
	PriorEpisodes int
	CurrentEnergy int
	Now           time.Time
}

// DetectStuck classifies a stuck report and builds its intervention. It never touches the task itself.
func DetectStuck(in StuckInput) domain.StuckEpisode {
	estimate := in.EstimatedMinutes
	if estimate <= 0 {
		estimate = defaultStuckEstimate
	}
	minutes := max(in.MinutesStuck, 0)

	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		reason = reasonUnspecified
	}
	if in.EstimatedMinutes > 0 && minutes > oversizedEstimateFactor*in.EstimatedMinutes {
		reason = ReasonOversized
	}

	intervention := escalate(in.PriorEpisodes, in.CurrentEnergy)
	return domain.StuckEpisode{
		TaskID:           in.TaskID,
		Reason:           reason,
		MinutesStuck:     minutes,
		InterventionType: intervention,
		Microtasks:       buildMicrotasks(intervention, RemainingMinutes(estimate, minutes)),
		ReportedAt:       in.Now.UTC(),
	}
}

// escalate moves microtask -> altTask -> coach on each repeated report.
func escalate(prior, energy int) domain.InterventionType {
	switch {
	case prior <= 0 && energy > 0 && energy <= breakEnergyThreshold:
		return domain.InterventionBreak
	case prior <= 0:
		return domain.InterventionMicrotask
	case prior == 1:
		return domain.InterventionAltTask
	default:
		return domain.InterventionCoach
	}
}

// RemainingMinutes is the estimate left to decompose. An overrun task is re-planned from its full estimate.
func RemainingMinutes(estimate, elapsed int) int {
	estimate = max(estimate, 0)
	remaining := estimate - max(elapsed, 0)
	if remaining <= 0 {
		return estimate
	}
	return remaining
}

// SplitMinutes divides remaining into three steps whose sum never exceeds remaining.
// The first step gets at least one minute and at most five; the later ones are capped
// and drop to zero minutes when too little time is left.
func SplitMinutes(remaining int) [3]int {
	if remaining <= 0 {
		return [3]int{}
	}
	first := min(firstStepMaxMinutes, max(remaining/3, 1))
	rest := remaining - first
	second := rest / 2
	third := rest - second
	return [3]int{first, min(second, laterStepMaxMinutes), min(third, laterStepMaxMinutes)}
}

var microtaskSteps = [3]string{
	"Open the task and write down the very next physical step",
	"Do only the smallest piece you wrote down, skipping polish",
	"Note where you stopped and what comes next",
}

func buildMicrotasks(intervention domain.InterventionType, remaining int) []domain.Microtask {
	steps := SplitMinutes(remaining)
	out := make([]domain.Microtask, 0, len(steps))
	for i, minutes := range steps {
		desc := microtaskSteps[i]
		if i == 0 && intervention == domain.InterventionBreak {
			desc = "Step away for a short break, then reopen the task"
		}
		out = append(out, domain.Microtask{Description: desc, EstimatedMinutes: minutes})
	}
	return out
}
