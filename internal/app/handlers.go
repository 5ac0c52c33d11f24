package app

import (
	"fmt"
	"strconv"
	"time"

	"github.com/hylla/nudge/internal/domain"
)

// State-consistency failure codes.
const (
	ReasonTaskAlreadyActive = "task_already_active"
	ReasonTaskNotActive     = "task_not_active"
	ReasonUnknownTask       = "unknown_task"
	ReasonTaskCompleted     = "task_already_completed"
)

// eventContext is the working set of one handler invocation.
type eventContext struct {
	svc        *Service
	now        time.Time
	meta       domain.EventMeta
	state      *domain.GraphState
	ledger     *Ledger
	entries    []domain.XpLedgerEntry
	profile    domain.UserProfile
	candidates []domain.TaskCandidate
	loc        *time.Location
	today      string

	completed []string
	data      map[string]any
	noop      bool
	text      *TextRequest
	textKey   string
}

func (ec *eventContext) outcome() outcome {
	return outcome{
		state:     *ec.state,
		ledger:    ec.ledger,
		completed: ec.completed,
		data:      ec.data,
		noop:      ec.noop,
		text:      ec.text,
		textKey:   ec.textKey,
	}
}

// requestText schedules copy generation once the commit has happened.
func (ec *eventContext) requestText(key string, purpose TextPurpose, facts map[string]string) {
	ec.textKey = key
	ec.text = &TextRequest{Purpose: purpose, UserID: ec.meta.UserID, TraceID: ec.meta.TraceID, Facts: facts}
}

// award applies one ledger award and records the gain on the response data.
func (ec *eventContext) award(action domain.LedgerAction, amount int, taskID, occurrence string) (bool, error) {
	before := ec.ledger.State().TotalXP
	_, applied, err := ec.ledger.ApplyEvent(Award{
		UserID:        ec.meta.UserID,
		Action:        action,
		Amount:        amount,
		SourceTaskID:  taskID,
		OccurrenceKey: occurrence,
		At:            ec.now,
	})
	if err != nil {
		return false, fmt.Errorf("award %s: %w", action, err)
	}
	gained, _ := ec.data["xp_gained"].(int)
	ec.data["xp_gained"] = gained + ec.ledger.State().TotalXP - before
	return applied, nil
}

func (ec *eventContext) gamificationSummary() map[string]any {
	game := ec.ledger.State()
	return map[string]any{
		"total_xp":       game.TotalXP,
		"level":          game.Level,
		"current_streak": game.CurrentStreak,
		"longest_streak": game.LongestStreak,
	}
}

func (ec *eventContext) constraintsOrDefault() domain.SelectionConstraints {
	if ec.state.Constraints != nil {
		return ec.state.Constraints.Clone()
	}
	return DefaultConstraints(ec.profile, ec.svc.cfg.DefaultMaxMinutes)
}

// dispatch runs the routed handler against the working copy.
func (s *Service) dispatch(ec *eventContext, route Route, ev domain.Event) error {
	switch route.Handler {
	case HandlerAppOpen:
		return ec.handleAppOpen()
	case HandlerCheckIn:
		return ec.handleCheckIn(ev.(domain.CheckInSubmitted))
	case HandlerDoNext:
		return ec.handleDoNext()
	case HandlerDoAction:
		return ec.handleDoAction(ev.(domain.DoAction))
	case HandlerDayEnd:
		return ec.handleDayEnd()
	default:
		return fmt.Errorf("handler %q: %w", route.Handler, domain.ErrUnknownEventKind)
	}
}

func (ec *eventContext) handleAppOpen() error {
	st := ec.state
	ec.data["phase"] = st.Phase
	ec.data["check_in_needed"] = st.EnergyLevel == nil
	ec.data["session_date"] = st.SessionDate
	if st.ActiveTask != nil {
		ec.data["active_task_id"] = st.ActiveTask.TaskID
	}
	ec.data["gamification"] = ec.gamificationSummary()
	game := ec.ledger.State()
	ec.requestText("motivation", TextMotivation, map[string]string{
		FactPhase:  string(st.Phase),
		FactStreak: strconv.Itoa(game.CurrentStreak),
		FactLevel:  strconv.Itoa(game.Level),
	})
	return nil
}

func (ec *eventContext) handleCheckIn(ev domain.CheckInSubmitted) error {
	st := ec.state
	energy := ev.EnergyLevel
	st.EnergyLevel = &energy
	st.Mood = nil
	if ev.Mood != "" {
		mood := ev.Mood
		st.Mood = &mood
	}
	constraints := DeriveConstraints(ConstraintInput{
		EnergyLevel:       ev.EnergyLevel,
		FocusAreas:        ev.FocusAreas,
		Profile:           ec.profile,
		Candidates:        ec.candidates,
		DefaultMaxMinutes: ec.svc.cfg.DefaultMaxMinutes,
	})
	st.Constraints = &constraints
	st.Candidates = openCandidateIDs(ec.candidates)
	if st.ActiveTask == nil {
		st.Phase = domain.PhaseCheckedIn
	}

	ec.data["xp_gained"] = 0
	if _, err := ec.award(domain.LedgerActionCheckIn, ec.svc.cfg.XP.CheckIn, "", ec.today); err != nil {
		return err
	}
	ec.data["constraints"] = constraints
	ec.data["phase"] = st.Phase
	ec.data["gamification"] = ec.gamificationSummary()
	return nil
}

func (ec *eventContext) handleDoNext() error {
	st := ec.state
	constraints := ec.constraintsOrDefault()
	sel, ok := Select(SelectInput{
		Candidates:  ec.candidates,
		Constraints: constraints,
		Now:         ec.now,
		Exclude:     st.CompletedToday,
	})
	st.Candidates = rankedIDs(sel.Ranked)
	ec.data["constraints"] = constraints
	if !ok {
		st.SelectedTaskID = ""
		ec.data["selected"] = nil
		ec.data["no_eligible_candidate"] = true
		ec.data["rejected"] = sel.Rejected
		ec.requestText("message", TextNoTask, map[string]string{FactMode: string(constraints.Mode)})
		return nil
	}

	st.SelectedTaskID = sel.TaskID
	if st.ActiveTask == nil {
		st.Phase = domain.PhaseTaskSelected
	}
	ec.data["selected"] = map[string]any{
		"id":                sel.Candidate.ID,
		"title":             sel.Candidate.Title,
		"estimated_minutes": sel.Candidate.EstimatedMinutes,
		"priority":          sel.Candidate.Priority,
	}
	ec.data["reason"] = sel.Reason
	ec.data["score"] = sel.Score
	ec.data["breakdown"] = sel.Breakdown
	ec.requestText("coaching", TextCoaching, map[string]string{
		FactTaskTitle: sel.Candidate.Title,
		FactReason:    sel.Reason,
		FactMode:      string(constraints.Mode),
	})
	return nil
}

func (ec *eventContext) handleDoAction(ev domain.DoAction) error {
	ec.data["task_id"] = ev.TaskID
	ec.data["action"] = ev.Action
	switch ev.Action {
	case domain.ActionStart:
		return ec.handleStart(ev)
	case domain.ActionPause:
		return ec.handlePause(ev)
	case domain.ActionComplete:
		return ec.handleComplete(ev)
	case domain.ActionStuck:
		return ec.handleStuck(ev)
	default:
		return &domain.FieldError{Field: "action", Err: domain.ErrUnknownAction}
	}
}

func (ec *eventContext) handleStart(ev domain.DoAction) error {
	st := ec.state
	if st.IsActive(ev.TaskID) {
		if st.Phase == domain.PhaseStuck {
			st.Phase = domain.PhaseTaskActive
			ec.data["resumed"] = true
			ec.data["phase"] = st.Phase
			return nil
		}
		ec.noop = true
		return nil
	}
	if st.ActiveTask != nil {
		return domain.NewStateError(ReasonTaskAlreadyActive, "task %s is already active; pause or complete it first", st.ActiveTask.TaskID)
	}
	cand, ok := domain.FindCandidate(ec.candidates, ev.TaskID)
	if !ok {
		return domain.NewStateError(ReasonUnknownTask, "task %s is not a known candidate", ev.TaskID)
	}
	if cand.Completed() {
		return domain.NewStateError(ReasonTaskCompleted, "task %s is already completed", ev.TaskID)
	}
	st.ActiveTask = &domain.ActiveTask{TaskID: ev.TaskID, StartedAt: ec.now.UTC()}
	st.SelectedTaskID = ev.TaskID
	st.Phase = domain.PhaseTaskActive
	ec.data["phase"] = st.Phase
	ec.data["started_at"] = st.ActiveTask.StartedAt
	return nil
}

func (ec *eventContext) handlePause(ev domain.DoAction) error {
	st := ec.state
	if !st.IsActive(ev.TaskID) {
		if st.Phase == domain.PhasePaused && lastActionWas(st, domain.ActionPause, ev.TaskID) {
			ec.noop = true
			return nil
		}
		return domain.NewStateError(ReasonTaskNotActive, "task %s is not active", ev.TaskID)
	}
	st.ActiveTask = nil
	ec.data["resolved_episodes"] = st.ResolveEpisodes(ev.TaskID, ec.now)
	st.Phase = domain.PhasePaused
	ec.data["phase"] = st.Phase
	return nil
}

func (ec *eventContext) handleComplete(ev domain.DoAction) error {
	st := ec.state
	if !st.IsActive(ev.TaskID) {
		if ec.ledger.Has(ec.meta.UserID, domain.LedgerActionTaskCompleted, ev.TaskID) {
			ec.noop = true
			return nil
		}
		return domain.NewStateError(ReasonTaskNotActive, "task %s is not active", ev.TaskID)
	}
	cand, _ := domain.FindCandidate(ec.candidates, ev.TaskID)
	levelBefore := ec.ledger.State().Level

	st.ActiveTask = nil
	st.SelectedTaskID = ""
	resolved := st.ResolveEpisodes(ev.TaskID, ec.now)
	ec.data["xp_gained"] = 0
	if resolved > 0 {
		if _, err := ec.award(domain.LedgerActionStuckResolved, ec.svc.cfg.XP.StuckResolved, ev.TaskID, ""); err != nil {
			return err
		}
	}
	if _, err := ec.award(domain.LedgerActionTaskCompleted, ec.svc.cfg.XP.TaskCompleted(cand.EstimatedMinutes), ev.TaskID, ""); err != nil {
		return err
	}
	st.MarkCompleted(ev.TaskID)
	ec.completed = append(ec.completed, ev.TaskID)
	st.Phase = domain.PhaseCompleted

	game := ec.ledger.State()
	ec.data["phase"] = st.Phase
	ec.data["resolved_episodes"] = resolved
	ec.data["level_up"] = game.Level > levelBefore
	ec.data["gamification"] = ec.gamificationSummary()
	ec.requestText("motivation", TextMotivation, map[string]string{
		FactTaskTitle: cand.Title,
		FactStreak:    strconv.Itoa(game.CurrentStreak),
		FactLevel:     strconv.Itoa(game.Level),
	})
	return nil
}

func (ec *eventContext) handleStuck(ev domain.DoAction) error {
	st := ec.state
	if !st.IsActive(ev.TaskID) {
		return domain.NewStateError(ReasonTaskNotActive, "task %s is not active", ev.TaskID)
	}
	cand, _ := domain.FindCandidate(ec.candidates, ev.TaskID)
	energy := 0
	if st.EnergyLevel != nil {
		energy = *st.EnergyLevel
	}
	elapsed := int(ec.now.Sub(st.ActiveTask.StartedAt).Minutes())
	episode := DetectStuck(StuckInput{
		TaskID:           ev.TaskID,
		Reason:           ev.Reason,
		MinutesStuck:     elapsed,
		EstimatedMinutes: cand.EstimatedMinutes,
		PriorEpisodes:    len(st.EpisodesFor(ev.TaskID)),
		CurrentEnergy:    energy,
		Now:              ec.now,
	})

	if episode.InterventionType == domain.InterventionAltTask {
		exclude := append([]string{ev.TaskID}, st.CompletedToday...)
		if alt, ok := Select(SelectInput{
			Candidates:  ec.candidates,
			Constraints: ec.constraintsOrDefault(),
			Now:         ec.now,
			Exclude:     exclude,
		}); ok {
			episode.AlternativeTaskID = alt.TaskID
			ec.data["alternative"] = map[string]any{
				"id":                alt.Candidate.ID,
				"title":             alt.Candidate.Title,
				"estimated_minutes": alt.Candidate.EstimatedMinutes,
			}
		}
	}
	st.InterventionLog = append(st.InterventionLog, episode)
	st.Phase = domain.PhaseStuck

	ec.data["phase"] = st.Phase
	ec.data["episode"] = episode
	ec.data["intervention"] = episode.InterventionType
	ec.data["microtasks"] = episode.Microtasks
	if episode.InterventionType == domain.InterventionCoach {
		ec.requestText("coaching", TextStuckCoach, map[string]string{
			FactTaskTitle:    cand.Title,
			FactReason:       episode.Reason,
			FactIntervention: string(episode.InterventionType),
		})
	}
	return nil
}

func (ec *eventContext) handleDayEnd() error {
	st := ec.state
	if st.SessionDate != "" && ec.today < st.SessionDate {
		// The session for this date has already been closed.
		ec.noop = true
		return nil
	}
	stuckCount, resolvedCount := 0, 0
	for _, ep := range st.InterventionLog {
		stuckCount++
		if ep.Resolved() {
			resolvedCount++
		}
	}
	completedCount := len(st.CompletedToday)

	ec.data["xp_gained"] = 0
	game := ec.ledger.UpdateStreak(ec.today)
	if _, err := ec.award(domain.LedgerActionDayEnd, ec.svc.cfg.XP.DayEnd(game.CurrentStreak), "", ec.today); err != nil {
		return err
	}
	game = ec.ledger.State()
	xpToday := ec.xpOn(ec.today)

	ec.data["insights"] = map[string]any{
		"date":              ec.today,
		"completed_count":   completedCount,
		"completed_tasks":   append([]string{}, st.CompletedToday...),
		"xp_today":          xpToday,
		"stuck_episodes":    stuckCount,
		"resolved_episodes": resolvedCount,
	}
	ec.data["gamification"] = ec.gamificationSummary()
	ec.requestText("motivation", TextDayInsight, map[string]string{
		FactCompleted:  strconv.Itoa(completedCount),
		FactXPToday:    strconv.Itoa(xpToday),
		FactStreak:     strconv.Itoa(game.CurrentStreak),
		FactStuckCount: strconv.Itoa(stuckCount),
		FactResolved:   strconv.Itoa(resolvedCount),
	})

	next, err := time.Parse(time.DateOnly, ec.today)
	if err != nil {
		return fmt.Errorf("parse session date %q: %w", ec.today, err)
	}
	st.ResetSession(next.AddDate(0, 0, 1).Format(time.DateOnly))
	ec.data["phase"] = st.Phase
	return nil
}

// xpOn sums persisted and pending gains whose timestamp falls on date in the user's timezone.
func (ec *eventContext) xpOn(date string) int {
	total := 0
	for _, group := range [][]domain.XpLedgerEntry{ec.entries, ec.ledger.Appended()} {
		for _, e := range group {
			if domain.DateKey(e.Timestamp, ec.loc) == date {
				total += e.XPGained
			}
		}
	}
	return total
}

func lastActionWas(st *domain.GraphState, action domain.Action, taskID string) bool {
	return st.LastEvent != nil && st.LastEvent.Action == action && st.LastEvent.TaskID == taskID
}

func openCandidateIDs(candidates []domain.TaskCandidate) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if !c.Completed() {
			out = append(out, c.ID)
		}
	}
	return out
}

func rankedIDs(ranked []ScoredCandidate) []string {
	out := make([]string, 0, len(ranked))
	for _, sc := range ranked {
		out = append(out, sc.Candidate.ID)
	}
	return out
}
