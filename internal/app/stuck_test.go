package app

import (
	"testing"

	"github.com/hylla/nudge/internal/domain"
)

func TestDetectStuckEscalation(t *testing.T) {
	cases := []struct {
		prior  int
		energy int
		want   domain.InterventionType
	}{
		{prior: 0, energy: 6, want: domain.InterventionMicrotask},
		{prior: 0, energy: 2, want: domain.InterventionBreak},
		{prior: 1, energy: 2, want: domain.InterventionAltTask},
		{prior: 2, energy: 6, want: domain.InterventionCoach},
		{prior: 7, energy: 6, want: domain.InterventionCoach},
	}
	for _, tc := range cases {
		ep := DetectStuck(StuckInput{TaskID: "a", PriorEpisodes: tc.prior, CurrentEnergy: tc.energy, EstimatedMinutes: 30, Now: day1})
		if ep.InterventionType != tc.want {
			t.Fatalf("prior=%d energy=%d: got %q, want %q", tc.prior, tc.energy, ep.InterventionType, tc.want)
		}
		if ep.Resolved() {
			t.Fatal("expected a new episode to be unresolved")
		}
	}
}

func TestDetectStuckReason(t *testing.T) {
	ep := DetectStuck(StuckInput{TaskID: "a", EstimatedMinutes: 20, MinutesStuck: 41, Reason: "confused"})
	if ep.Reason != ReasonOversized {
		t.Fatalf("expected oversized reason, got %q", ep.Reason)
	}
	ep = DetectStuck(StuckInput{TaskID: "a", EstimatedMinutes: 20, MinutesStuck: 40, Reason: " confused "})
	if ep.Reason != "confused" {
		t.Fatalf("expected user reason, got %q", ep.Reason)
	}
	ep = DetectStuck(StuckInput{TaskID: "a"})
	if ep.Reason == "" {
		t.Fatal("expected a default reason")
	}
}

func TestMicrotaskBudgets(t *testing.T) {
	for _, tc := range []struct{ estimate, elapsed, budget int }{
		{estimate: 30, elapsed: 0, budget: 30},
		{estimate: 30, elapsed: 10, budget: 20},
		{estimate: 30, elapsed: 28, budget: 2},
		{estimate: 30, elapsed: 29, budget: 1},
		{estimate: 30, elapsed: 45, budget: 30},
		{estimate: 3, elapsed: 0, budget: 3},
		{estimate: 4, elapsed: 1, budget: 3},
		{estimate: 0, elapsed: 0, budget: defaultStuckEstimate},
		{estimate: 240, elapsed: 5, budget: 235},
		{estimate: 2, elapsed: 0, budget: 2},
		{estimate: 1, elapsed: 0, budget: 1},
	} {
		ep := DetectStuck(StuckInput{TaskID: "a", EstimatedMinutes: tc.estimate, MinutesStuck: tc.elapsed})
		if len(ep.Microtasks) != 3 {
			t.Fatalf("estimate=%d elapsed=%d: expected 3 microtasks, got %d", tc.estimate, tc.elapsed, len(ep.Microtasks))
		}
		if ep.TotalMinutes() > tc.budget {
			t.Fatalf("estimate=%d elapsed=%d: microtasks sum %d exceeds %d", tc.estimate, tc.elapsed, ep.TotalMinutes(), tc.budget)
		}
		for i, m := range ep.Microtasks {
			if m.EstimatedMinutes < 0 || m.EstimatedMinutes > laterStepMaxMinutes {
				t.Fatalf("estimate=%d elapsed=%d: step %d has %d minutes", tc.estimate, tc.elapsed, i, m.EstimatedMinutes)
			}
			if m.Description == "" {
				t.Fatalf("step %d has no description", i)
			}
		}
		if first := ep.Microtasks[0].EstimatedMinutes; first < 1 || first > firstStepMaxMinutes {
			t.Fatalf("estimate=%d elapsed=%d: first step has %d minutes", tc.estimate, tc.elapsed, first)
		}
	}
}

func TestSplitMinutesTinyBudgets(t *testing.T) {
	cases := map[int][3]int{
		1: {1, 0, 0},
		2: {1, 0, 1},
		3: {1, 1, 1},
		9: {3, 3, 3},
	}
	for remaining, want := range cases {
		if got := SplitMinutes(remaining); got != want {
			t.Fatalf("SplitMinutes(%d) = %v, want %v", remaining, got, want)
		}
	}
}

func TestRemainingMinutesReplansOverrun(t *testing.T) {
	if got := RemainingMinutes(30, 10); got != 20 {
		t.Fatalf("RemainingMinutes(30, 10) = %d", got)
	}
	if got := RemainingMinutes(30, 29); got != 1 {
		t.Fatalf("RemainingMinutes(30, 29) = %d, want 1", got)
	}
	if got := RemainingMinutes(30, 45); got != 30 {
		t.Fatalf("RemainingMinutes(30, 45) = %d, want full estimate", got)
	}
	if got := RemainingMinutes(2, 0); got != 2 {
		t.Fatalf("RemainingMinutes(2, 0) = %d, want 2", got)
	}
}
