package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hylla/nudge/internal/domain"
)

// Default collaborator timeouts.
const (
	DefaultStorageTimeout = 2 * time.Second
	DefaultTextTimeout    = 3 * time.Second
)

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	StorageTimeout    time.Duration
	TextTimeout       time.Duration
	DefaultMaxMinutes int
	DefaultTimezone   string
	XP                XPTable
}

// IDGenerator returns unique identifiers for new ledger entries.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// Option customizes a Service.
type Option func(*Service)

// WithTextGenerator sets the best-effort text generator.
func WithTextGenerator(gen TextGenerator) Option {
	return func(s *Service) {
		s.text = gen
	}
}

// WithTracer sets the span exporter.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service is the orchestrator: it processes one event at a time per user.
type Service struct {
	store  Store
	idGen  IDGenerator
	clock  Clock
	cfg    ServiceConfig
	locks  *KeyedMutex
	text   TextGenerator
	tracer Tracer
	logger *log.Logger
}

// NewService constructs a new value for this package.
func NewService(store Store, idGen IDGenerator, clock Clock, cfg ServiceConfig, opts ...Option) *Service {
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	if clock == nil {
		clock = time.Now
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = DefaultStorageTimeout
	}
	if cfg.TextTimeout <= 0 {
		cfg.TextTimeout = DefaultTextTimeout
	}
	if cfg.DefaultMaxMinutes <= 0 {
		cfg.DefaultMaxMinutes = DefaultMaxMinutes
	}
	if cfg.XP == (XPTable{}) {
		cfg.XP = DefaultXPTable()
	}
	s := &Service{
		store:  store,
		idGen:  idGen,
		clock:  clock,
		cfg:    cfg,
		locks:  NewKeyedMutex(),
		logger: log.New(io.Discard),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// loaded is everything read from storage for one event.
type loaded struct {
	state      domain.GraphState
	game       domain.GamificationState
	entries    []domain.XpLedgerEntry
	profile    domain.UserProfile
	candidates []domain.TaskCandidate
}

// outcome is what a handler decided for one event.
type outcome struct {
	state     domain.GraphState
	ledger    *Ledger
	completed []string
	data      map[string]any
	noop      bool
	text      *TextRequest
	textKey   string
}

// Process handles one event end to end. It never returns a Go error; failures are reported on Result.
func (s *Service) Process(ctx context.Context, ev domain.Event) Result {
	started := s.clock()
	var kind domain.EventKind
	if ev != nil {
		kind = ev.Kind()
	}
	if err := domain.ValidateEvent(ev); err != nil {
		res := failureResult(kind, err)
		s.emit(ev, started, res)
		return res
	}
	route, err := RouteFor(kind)
	if err != nil {
		res := failureResult(kind, fieldErrorForKind(err))
		s.emit(ev, started, res)
		return res
	}

	meta := ev.Meta()
	res, out := s.processLocked(ctx, route, ev)
	if res.Success && out.text != nil {
		res.Data[out.textKey] = s.generateText(ctx, *out.text)
	}
	if res.Success {
		s.logger.Info("event processed", "user_id", meta.UserID, "trace_id", meta.TraceID, "event", kind, "task_id", taskIDOf(ev), "duplicate", out.noop)
	} else {
		s.logger.Warn("event failed", "user_id", meta.UserID, "trace_id", meta.TraceID, "event", kind, "task_id", taskIDOf(ev), "code", res.Error.Code)
	}
	s.emit(ev, started, res)
	return res
}

// processLocked runs load, handle and commit while holding the user's lock.
func (s *Service) processLocked(ctx context.Context, route Route, ev domain.Event) (Result, outcome) {
	meta := ev.Meta()
	unlock, err := s.locks.Lock(ctx, meta.UserID)
	if err != nil {
		return failureResult(route.Kind, fmt.Errorf("%w: acquire user lock: %w", ErrCollaboratorDown, err)), outcome{}
	}
	defer unlock()

	in, err := s.load(ctx, meta.UserID, route.NeedsCandidates)
	if err != nil {
		return failureResult(route.Kind, err), outcome{}
	}

	loc := s.locationFor(in.profile)
	today := domain.DateKey(meta.Timestamp, loc)
	working := in.state.Clone()
	s.rollover(&working, today)

	ec := &eventContext{
		svc:        s,
		now:        meta.Timestamp,
		meta:       meta,
		state:      &working,
		ledger:     NewLedger(in.game, in.entries, s.idGen),
		entries:    in.entries,
		profile:    in.profile,
		candidates: in.candidates,
		loc:        loc,
		today:      today,
		data:       map[string]any{},
	}
	if err := s.dispatch(ec, route, ev); err != nil {
		res := failureResult(route.Kind, err)
		var stateErr *domain.StateError
		if errors.As(err, &stateErr) {
			view := in.state.Clone()
			view.Error = stateErr
			res.State = &view
		}
		return res, outcome{}
	}
	out := ec.outcome()
	if out.noop {
		out.data["duplicate"] = true
		return successResult(route.Kind, out.data, in.state), out
	}

	committed, err := s.commit(ctx, ev, in, out)
	if err != nil {
		return failureResult(route.Kind, err), outcome{}
	}
	return successResult(route.Kind, out.data, committed), out
}

// load reads every collaborator input concurrently under the storage timeout.
func (s *Service) load(ctx context.Context, userID string, needCandidates bool) (loaded, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()

	var in loaded
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		state, err := s.store.LoadState(gctx, userID)
		switch {
		case errors.Is(err, ErrNotFound):
			in.state = domain.NewGraphState(userID)
		case err != nil:
			return storageError("load state", err)
		default:
			in.state = state
		}
		return nil
	})
	g.Go(func() error {
		game, err := s.store.LoadGamificationState(gctx, userID)
		switch {
		case errors.Is(err, ErrNotFound):
			in.game = domain.NewGamificationState(userID)
		case err != nil:
			return storageError("load gamification", err)
		default:
			in.game = game
		}
		return nil
	})
	g.Go(func() error {
		entries, err := s.store.ListLedgerEntries(gctx, userID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return storageError("list ledger", err)
		}
		in.entries = entries
		return nil
	})
	g.Go(func() error {
		profile, err := s.store.LoadProfile(gctx, userID)
		switch {
		case errors.Is(err, ErrNotFound):
			in.profile = domain.UserProfile{UserID: userID}
		case err != nil:
			return storageError("load profile", err)
		default:
			in.profile = profile
		}
		return nil
	})
	if needCandidates {
		g.Go(func() error {
			candidates, err := s.store.ListCandidates(gctx, userID, CandidateFilter{IncludeCompleted: true})
			if err != nil && !errors.Is(err, ErrNotFound) {
				return storageError("list candidates", err)
			}
			in.candidates = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return loaded{}, err
	}
	if in.state.UserID == "" {
		in.state.UserID = userID
	}
	return in, nil
}

// commit persists the outcome as one atomic write and returns the committed state.
func (s *Service) commit(ctx context.Context, ev domain.Event, in loaded, out outcome) (domain.GraphState, error) {
	state := out.state
	rec := domain.RecordOf(ev)
	state.LastEvent = &rec
	state.Error = nil
	state.Version = in.state.Version + 1
	state.UpdatedAt = s.clock().UTC()
	if err := state.Validate(); err != nil {
		return domain.GraphState{}, fmt.Errorf("post-event state invalid: %w", err)
	}
	game := out.ledger.State()
	if game.UserID == "" {
		game.UserID = state.UserID
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()
	err := s.store.CommitEvent(ctx, Commit{
		UserID:           state.UserID,
		ExpectedVersion:  in.state.Version,
		State:            state,
		Gamification:     game,
		LedgerEntries:    out.ledger.Appended(),
		CompletedTaskIDs: out.completed,
		CommittedAt:      state.UpdatedAt,
	})
	switch {
	case err == nil:
		return state, nil
	case errors.Is(err, ErrVersionConflict), errors.Is(err, ErrDuplicateLedgerEntry):
		return domain.GraphState{}, fmt.Errorf("commit: %w", err)
	default:
		return domain.GraphState{}, storageError("commit", err)
	}
}

// rollover starts a new session when the event falls on a later local date.
// An active task survives the rollover; only DayEnd returns the user to idle.
func (s *Service) rollover(state *domain.GraphState, today string) {
	switch {
	case state.SessionDate == "":
		state.SessionDate = today
	case today > state.SessionDate:
		state.RolloverSession(today)
	}
}

func (s *Service) locationFor(profile domain.UserProfile) *time.Location {
	if strings.TrimSpace(profile.Timezone) != "" {
		loc, err := domain.ResolveLocation(profile.Timezone)
		if err == nil {
			return loc
		}
		s.logger.Warn("invalid profile timezone", "user_id", profile.UserID, "err", err)
	}
	loc, err := domain.ResolveLocation(s.cfg.DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// generateText asks the generator for copy and falls back to the template on any failure.
func (s *Service) generateText(ctx context.Context, req TextRequest) string {
	fallback := FallbackText(req)
	if s.text == nil {
		return fallback
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TextTimeout)
	defer cancel()
	text, err := s.text.Generate(ctx, req)
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil && !errors.Is(err, ErrTextGeneratorDisabled) {
			s.logger.Debug("text generation fell back", "user_id", req.UserID, "trace_id", req.TraceID, "purpose", req.Purpose, "err", err)
		}
		return fallback
	}
	return strings.TrimSpace(text)
}

// emit hands one span to the tracer. Tracer failures never reach the caller.
func (s *Service) emit(ev domain.Event, started time.Time, res Result) {
	if s.tracer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("tracer panicked", "recovered", r)
		}
	}()
	span := Span{
		Name:     "process_event",
		Start:    started,
		Duration: s.clock().Sub(started),
		Attrs:    map[string]string{"event": string(res.EventType)},
	}
	if ev != nil {
		meta := ev.Meta()
		span.TraceID = meta.TraceID
		span.UserID = meta.UserID
		if id := taskIDOf(ev); id != "" {
			span.Attrs["task_id"] = id
		}
	}
	if res.Error != nil {
		span.Err = string(res.Error.Code)
	}
	if res.Duplicate() {
		span.Attrs["duplicate"] = "true"
	}
	s.tracer.Emit(span)
}

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrCollaboratorDown, op, err)
}

func fieldErrorForKind(err error) error {
	return &domain.FieldError{Field: "type", Err: err}
}

func taskIDOf(ev domain.Event) string {
	if a, ok := ev.(domain.DoAction); ok {
		return a.TaskID
	}
	return ""
}
