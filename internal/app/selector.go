package app

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/hylla/nudge/internal/domain"
)

// Scoring weights.
const (
	maxDeadlineUrgency = 30.0
	deadlineDecayHours = 48.0
	maxEnergyMatch     = 15.0
	deepMinutesCeiling = 90.0
	lightMinutesWindow = 60.0
	balancedPeak       = 40.0
)

var priorityWeights = map[domain.Priority]float64{
	domain.PriorityLow:    10,
	domain.PriorityMedium: 20,
	domain.PriorityHigh:   30,
	domain.PriorityUrgent: 40,
}

// Filter reasons reported for rejected candidates.
const (
	RejectCompleted  = "completed"
	RejectExcluded   = "excluded"
	RejectTooLong    = "exceeds max minutes"
	RejectAvoidedTag = "avoided tag"
	RejectDependency = "blocked by dependency"
)

// SelectInput holds the inputs of Select.
type SelectInput struct {
	Candidates  []domain.TaskCandidate
	Constraints domain.SelectionConstraints
	Now         time.Time
	Exclude     []string
}

// ScoreBreakdown itemizes one candidate's score.
type ScoreBreakdown struct {
	Priority float64 `json:"priority"`
	Deadline float64 `json:"deadline"`
	Energy   float64 `json:"energy"`
}

// Total sums the components.
func (b ScoreBreakdown) Total() float64 {
	return b.Priority + b.Deadline + b.Energy
}

// ScoredCandidate pairs a surviving candidate with its score.
type ScoredCandidate struct {
	Candidate domain.TaskCandidate
	Score     float64
	Breakdown ScoreBreakdown
}

// Selection is the selector's pick.
type Selection struct {
	TaskID    string
	Candidate domain.TaskCandidate
	Score     float64
	Breakdown ScoreBreakdown
	Reason    string
	Ranked    []ScoredCandidate
	Rejected  map[string]string
}

// FilterCandidates splits candidates into eligible survivors and rejected ids with reasons.
func FilterCandidates(in SelectInput) ([]domain.TaskCandidate, map[string]string) {
	completed := map[string]bool{}
	known := map[string]bool{}
	for _, c := range in.Candidates {
		known[c.ID] = true
		if c.Completed() {
			completed[c.ID] = true
		}
	}
	survivors := make([]domain.TaskCandidate, 0, len(in.Candidates))
	rejected := map[string]string{}
	for _, c := range in.Candidates {
		switch {
		case c.Completed():
			rejected[c.ID] = RejectCompleted
		case slices.Contains(in.Exclude, c.ID):
			rejected[c.ID] = RejectExcluded
		case c.EstimatedMinutes > in.Constraints.MaxMinutes:
			rejected[c.ID] = RejectTooLong
		case c.HasAnyTag(in.Constraints.AvoidTags):
			rejected[c.ID] = RejectAvoidedTag
		// A dependency on a task storage no longer projects counts as satisfied.
		case c.DependsOn != "" && known[c.DependsOn] && !completed[c.DependsOn]:
			rejected[c.ID] = RejectDependency
		default:
			survivors = append(survivors, c)
		}
	}
	return survivors, rejected
}

// Rank filters, scores and totally orders the eligible candidates.
func Rank(in SelectInput) []ScoredCandidate {
	survivors, _ := FilterCandidates(in)
	return rankSurvivors(survivors, in)
}

func rankSurvivors(survivors []domain.TaskCandidate, in SelectInput) []ScoredCandidate {
	if prefer := in.Constraints.PreferPriority; prefer != nil {
		preferred := slices.DeleteFunc(slices.Clone(survivors), func(c domain.TaskCandidate) bool {
			return !c.Priority.AtLeast(*prefer)
		})
		if len(preferred) > 0 {
			survivors = preferred
		}
	}
	scored := make([]ScoredCandidate, 0, len(survivors))
	for _, c := range survivors {
		b := ScoreBreakdown{
			Priority: priorityWeight(c.Priority),
			Deadline: deadlineUrgency(c.Deadline, in.Now),
			Energy:   energyMatch(c.EstimatedMinutes, in.Constraints.Mode),
		}
		scored = append(scored, ScoredCandidate{Candidate: c, Score: b.Total(), Breakdown: b})
	}
	slices.SortFunc(scored, compareScored)
	return scored
}

// Select picks exactly one candidate. ok is false when nothing is eligible, which is a normal outcome.
func Select(in SelectInput) (Selection, bool) {
	survivors, rejected := FilterCandidates(in)
	ranked := rankSurvivors(survivors, in)
	if len(ranked) == 0 {
		return Selection{Rejected: rejected}, false
	}
	top := ranked[0]
	return Selection{
		TaskID:    top.Candidate.ID,
		Candidate: top.Candidate,
		Score:     top.Score,
		Breakdown: top.Breakdown,
		Reason:    explainSelection(top, in.Constraints, in.Now),
		Ranked:    ranked,
		Rejected:  rejected,
	}, true
}

// compareScored orders by score desc, earlier deadline, fewer minutes, then id.
func compareScored(a, b ScoredCandidate) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := compareDeadlines(a.Candidate.Deadline, b.Candidate.Deadline); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Candidate.EstimatedMinutes, b.Candidate.EstimatedMinutes); c != 0 {
		return c
	}
	return strings.Compare(a.Candidate.ID, b.Candidate.ID)
}

// compareDeadlines sorts earlier deadlines first and missing deadlines last.
func compareDeadlines(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	default:
		return a.Compare(*b)
	}
}

func priorityWeight(p domain.Priority) float64 {
	return priorityWeights[p]
}

// deadlineUrgency decays exponentially with hours left, falling to 1/e of its maximum
// every deadlineDecayHours, and saturates once overdue.
func deadlineUrgency(deadline *time.Time, now time.Time) float64 {
	if deadline == nil {
		return 0
	}
	hoursLeft := deadline.Sub(now).Hours()
	if hoursLeft <= 0 {
		return maxDeadlineUrgency
	}
	return maxDeadlineUrgency * math.Exp(-hoursLeft/deadlineDecayHours)
}

func energyMatch(minutes int, mode domain.Mode) float64 {
	m := float64(minutes)
	var fit float64
	switch mode {
	case domain.ModeLight:
		fit = 1 - math.Min(m, lightMinutesWindow)/lightMinutesWindow
	case domain.ModeDeep:
		fit = math.Min(m, deepMinutesCeiling) / deepMinutesCeiling
	default:
		fit = 1 - math.Abs(m-balancedPeak)/balancedPeak
	}
	return maxEnergyMatch * math.Max(fit, 0)
}

// explainSelection renders the "why this task" line from the score breakdown.
func explainSelection(top ScoredCandidate, constraints domain.SelectionConstraints, now time.Time) string {
	c := top.Candidate
	parts := []string{fmt.Sprintf("%s priority", c.Priority)}
	if c.Deadline != nil {
		hours := c.Deadline.Sub(now).Hours()
		if hours <= 0 {
			parts = append(parts, "overdue")
		} else if hours < 48 {
			parts = append(parts, fmt.Sprintf("due in %.0fh", math.Ceil(hours)))
		}
	}
	parts = append(parts, fmt.Sprintf("%d min fits a %s session", c.EstimatedMinutes, constraints.Mode))
	return strings.Join(parts, "; ")
}
