package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hylla/nudge/internal/app"
	"github.com/hylla/nudge/internal/domain"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "nudge.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	return repo
}

func firstCommit(userID string) app.Commit {
	state := domain.NewGraphState(userID)
	state.Phase = domain.PhaseCheckedIn
	state.SessionDate = "2026-03-02"
	state.Version = 1
	state.LastEvent = &domain.EventRecord{Kind: domain.EventCheckInSubmitted, TraceID: "t1", Timestamp: testNow}
	return app.Commit{
		UserID:          userID,
		ExpectedVersion: 0,
		State:           state,
		Gamification:    domain.GamificationState{UserID: userID, TotalXP: 5, Level: 1},
		LedgerEntries: []domain.XpLedgerEntry{{
			ID: "e1", UserID: userID, Action: domain.LedgerActionCheckIn, XPGained: 5, TotalXPAfter: 5,
			OccurrenceKey: "2026-03-02", Timestamp: testNow,
		}},
		CommittedAt: testNow,
	}
}

func TestRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	if _, err := repo.LoadState(ctx, "nobody"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("LoadState() error = %v, want ErrNotFound", err)
	}
	if _, err := repo.LoadGamificationState(ctx, "nobody"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("LoadGamificationState() error = %v, want ErrNotFound", err)
	}
	if _, err := repo.LoadProfile(ctx, "nobody"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("LoadProfile() error = %v, want ErrNotFound", err)
	}
	entries, err := repo.ListLedgerEntries(ctx, "nobody")
	if err != nil || len(entries) != 0 {
		t.Fatalf("ListLedgerEntries() = %v, %v", entries, err)
	}
}

func TestRepository_CommitRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	deadline := testNow.Add(48 * time.Hour)
	if err := repo.UpsertCandidate(ctx, "u1", domain.TaskCandidate{ID: "a", Title: "Report", EstimatedMinutes: 25, Priority: domain.PriorityHigh, Tags: []string{"writing"}, Deadline: &deadline}); err != nil {
		t.Fatalf("UpsertCandidate() error = %v", err)
	}
	if err := repo.UpsertCandidate(ctx, "u1", domain.TaskCandidate{ID: "b", EstimatedMinutes: 10, Priority: domain.PriorityLow, DependsOn: "a"}); err != nil {
		t.Fatalf("UpsertCandidate() error = %v", err)
	}
	if err := repo.CommitEvent(ctx, firstCommit("u1")); err != nil {
		t.Fatalf("CommitEvent() error = %v", err)
	}

	state, err := repo.LoadState(ctx, "u1")
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if state.Phase != domain.PhaseCheckedIn || state.Version != 1 || state.LastEvent == nil {
		t.Fatalf("unexpected state %#v", state)
	}

	second := app.Commit{
		UserID:          "u1",
		ExpectedVersion: 1,
		State:           state,
		Gamification:    domain.GamificationState{UserID: "u1", TotalXP: 30, Level: 1},
		LedgerEntries: []domain.XpLedgerEntry{{
			ID: "e2", UserID: "u1", Action: domain.LedgerActionTaskCompleted, XPGained: 25, TotalXPAfter: 30,
			SourceTaskID: "a", OccurrenceKey: "a", Timestamp: testNow.Add(time.Hour),
		}},
		CompletedTaskIDs: []string{"a"},
		CommittedAt:      testNow.Add(time.Hour),
	}
	second.State.Phase = domain.PhaseCompleted
	second.State.Version = 2
	second.State.CompletedToday = []string{"a"}
	if err := repo.CommitEvent(ctx, second); err != nil {
		t.Fatalf("CommitEvent(second) error = %v", err)
	}

	entries, err := repo.ListLedgerEntries(ctx, "u1")
	if err != nil {
		t.Fatalf("ListLedgerEntries() error = %v", err)
	}
	if len(entries) != 2 || entries[1].SourceTaskID != "a" || !entries[1].Timestamp.Equal(testNow.Add(time.Hour)) {
		t.Fatalf("unexpected ledger %#v", entries)
	}
	game, err := repo.LoadGamificationState(ctx, "u1")
	if err != nil {
		t.Fatalf("LoadGamificationState() error = %v", err)
	}
	if err := app.VerifyLedger(entries, game); err != nil {
		t.Fatalf("VerifyLedger() error = %v", err)
	}

	open, err := repo.ListCandidates(ctx, "u1", app.CandidateFilter{})
	if err != nil {
		t.Fatalf("ListCandidates() error = %v", err)
	}
	if len(open) != 1 || open[0].ID != "b" || open[0].DependsOn != "a" {
		t.Fatalf("unexpected open candidates %#v", open)
	}
	all, err := repo.ListCandidates(ctx, "u1", app.CandidateFilter{IncludeCompleted: true})
	if err != nil {
		t.Fatalf("ListCandidates(all) error = %v", err)
	}
	if len(all) != 2 || !all[0].Completed() || all[0].Deadline == nil || !all[0].Deadline.Equal(deadline) || len(all[0].Tags) != 1 {
		t.Fatalf("unexpected candidates %#v", all)
	}

	history, err := repo.ListEventLog(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ListEventLog() error = %v", err)
	}
	if len(history) != 2 || history[0].Version != 2 || history[0].Phase != domain.PhaseCompleted {
		t.Fatalf("unexpected history %#v", history)
	}
}

func TestRepository_CommitRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	if err := repo.CommitEvent(ctx, firstCommit("u1")); err != nil {
		t.Fatalf("CommitEvent() error = %v", err)
	}
	stale := firstCommit("u1")
	stale.LedgerEntries = nil
	stale.Gamification.TotalXP = 5
	if err := repo.CommitEvent(ctx, stale); !errors.Is(err, app.ErrVersionConflict) {
		t.Fatalf("CommitEvent(stale) error = %v, want ErrVersionConflict", err)
	}
}

func TestRepository_CommitIsAtomic(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	if err := repo.CommitEvent(ctx, firstCommit("u1")); err != nil {
		t.Fatalf("CommitEvent() error = %v", err)
	}

	dup := firstCommit("u1")
	dup.ExpectedVersion = 1
	dup.State.Version = 2
	dup.State.Phase = domain.PhaseTaskSelected
	dup.LedgerEntries[0].ID = "e-dup"
	dup.LedgerEntries[0].TotalXPAfter = 10
	dup.Gamification.TotalXP = 10
	if err := repo.CommitEvent(ctx, dup); !errors.Is(err, app.ErrDuplicateLedgerEntry) {
		t.Fatalf("CommitEvent(dup) error = %v, want ErrDuplicateLedgerEntry", err)
	}

	mismatch := firstCommit("u1")
	mismatch.ExpectedVersion = 1
	mismatch.State.Version = 2
	mismatch.LedgerEntries[0].ID = "e3"
	mismatch.LedgerEntries[0].OccurrenceKey = "2026-03-03"
	mismatch.LedgerEntries[0].TotalXPAfter = 99
	if err := repo.CommitEvent(ctx, mismatch); !errors.Is(err, app.ErrLedgerMismatch) {
		t.Fatalf("CommitEvent(mismatch) error = %v, want ErrLedgerMismatch", err)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	next := firstCommit("u1")
	next.ExpectedVersion = 1
	next.State.Version = 2
	next.LedgerEntries = nil
	if err := repo.CommitEvent(canceled, next); err == nil {
		t.Fatal("expected canceled commit to fail")
	}

	state, err := repo.LoadState(ctx, "u1")
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if state.Version != 1 || state.Phase != domain.PhaseCheckedIn {
		t.Fatalf("expected pre-event state after failed commits, got %#v", state)
	}
	entries, err := repo.ListLedgerEntries(ctx, "u1")
	if err != nil {
		t.Fatalf("ListLedgerEntries() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(entries))
	}
}

func TestRepository_CommitCarriesCatalogRows(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	doneAt := testNow.Add(-24 * time.Hour)
	withCatalog := func() app.Commit {
		c := firstCommit("u1")
		c.Profile = &domain.UserProfile{UserID: "u1", OptimalSessionMinutes: 30}
		c.Candidates = []domain.TaskCandidate{
			{ID: "a", Title: "Write report", EstimatedMinutes: 25, Priority: domain.PriorityHigh},
			{ID: "b", Title: "Sort inbox", EstimatedMinutes: 10, Priority: domain.PriorityLow, CompletedAt: &doneAt},
		}
		return c
	}

	broken := withCatalog()
	broken.Gamification.TotalXP = 7
	if err := repo.CommitEvent(ctx, broken); !errors.Is(err, app.ErrLedgerMismatch) {
		t.Fatalf("CommitEvent(broken) error = %v, want ErrLedgerMismatch", err)
	}
	cands, err := repo.ListCandidates(ctx, "u1", app.CandidateFilter{IncludeCompleted: true})
	if err != nil {
		t.Fatalf("ListCandidates() error = %v", err)
	}
	if len(cands) != 0 {
		t.Fatalf("expected no candidates after failed commit, got %#v", cands)
	}
	if _, err := repo.LoadProfile(ctx, "u1"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("LoadProfile() error = %v, want ErrNotFound", err)
	}

	if err := repo.CommitEvent(ctx, withCatalog()); err != nil {
		t.Fatalf("CommitEvent() error = %v", err)
	}
	cands, err = repo.ListCandidates(ctx, "u1", app.CandidateFilter{IncludeCompleted: true})
	if err != nil {
		t.Fatalf("ListCandidates() error = %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates, got %#v", cands)
	}
	for _, c := range cands {
		if c.ID == "b" && (c.CompletedAt == nil || !c.CompletedAt.Equal(doneAt)) {
			t.Fatalf("expected completion time kept, got %#v", c.CompletedAt)
		}
	}
	profile, err := repo.LoadProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("LoadProfile() error = %v", err)
	}
	if profile.OptimalSessionMinutes != 30 {
		t.Fatalf("unexpected profile %#v", profile)
	}
}

func TestRepository_ProfileRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	want := domain.UserProfile{
		UserID:                "u1",
		OptimalSessionMinutes: 45,
		Timezone:              "Europe/Berlin",
		AvoidTagsByFocus:      map[string][]string{"anxious": {"calls"}},
	}
	if err := repo.SaveProfile(ctx, want); err != nil {
		t.Fatalf("SaveProfile() error = %v", err)
	}
	got, err := repo.LoadProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("LoadProfile() error = %v", err)
	}
	if got.OptimalSessionMinutes != 45 || got.Timezone != "Europe/Berlin" || len(got.AvoidTagsByFocus["anxious"]) != 1 {
		t.Fatalf("unexpected profile %#v", got)
	}
}

func TestRepository_ServiceEndToEnd(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	svc := app.NewService(repo, nil, func() time.Time { return testNow }, app.ServiceConfig{StorageTimeout: 5 * time.Second})

	if _, err := svc.AddCandidate(ctx, "u1", domain.TaskCandidateInput{ID: "a", Title: "Write report", EstimatedMinutes: 25, Priority: domain.PriorityHigh}); err != nil {
		t.Fatalf("AddCandidate() error = %v", err)
	}
	if _, err := svc.AddCandidate(ctx, "u1", domain.TaskCandidateInput{ID: "b", Title: "Sort inbox", EstimatedMinutes: 10, Priority: domain.PriorityLow}); err != nil {
		t.Fatalf("AddCandidate() error = %v", err)
	}

	meta := func(offset time.Duration) domain.EventMeta {
		return domain.NewEventMeta("u1", testNow.Add(offset), "trace")
	}
	events := []domain.Event{
		domain.NewCheckIn(meta(0), 8, "focused", nil),
		domain.DoNext{EventMeta: meta(time.Minute)},
		domain.NewDoAction(meta(2*time.Minute), domain.ActionStart, "a", ""),
		domain.NewDoAction(meta(30*time.Minute), domain.ActionComplete, "a", ""),
		domain.NewDoAction(meta(31*time.Minute), domain.ActionComplete, "a", ""),
		domain.DayEnd{EventMeta: meta(10 * time.Hour)},
	}
	for _, ev := range events {
		res := svc.Process(ctx, ev)
		if !res.Success {
			t.Fatalf("Process(%s) error = %+v", ev.Kind(), res.Error)
		}
	}

	report, err := svc.Ledger(ctx, "u1")
	if err != nil {
		t.Fatalf("Ledger() error = %v", err)
	}
	if !report.Verified {
		t.Fatalf("expected verified ledger, got %s", report.Problem)
	}
	if len(report.Entries) != 3 || report.Gamification.TotalXP != 5+25+5 {
		t.Fatalf("unexpected ledger %#v", report)
	}
	view, err := svc.UserState(ctx, "u1")
	if err != nil {
		t.Fatalf("UserState() error = %v", err)
	}
	if view.State.Phase != domain.PhaseIdle || view.State.Version != 5 {
		t.Fatalf("unexpected final state %#v", view.State)
	}
}
