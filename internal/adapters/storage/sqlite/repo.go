package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hylla/nudge/internal/app"
	"github.com/hylla/nudge/internal/domain"
	_ "modernc.org/sqlite"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// dsnPragmas apply to every pooled connection.
const dsnPragmas = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

// Repository implements app.Store on SQLite.
type Repository struct {
	db *sql.DB
}

// Open opens the requested operation.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(driverName, path+dsnPragmas)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// OpenInMemory opens a private in-memory database. It is pinned to one connection so the data survives.
func OpenInMemory() (*Repository, error) {
	db, err := sql.Open(driverName, ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	db.SetMaxOpenConns(1)
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the requested operation.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping reports whether the database answers.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// migrate handles migrate.
func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS graph_states (
			user_id TEXT PRIMARY KEY,
			phase TEXT NOT NULL,
			session_date TEXT NOT NULL DEFAULT '',
			state_json TEXT NOT NULL,
			version INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS gamification (
			user_id TEXT PRIMARY KEY,
			total_xp INTEGER NOT NULL DEFAULT 0,
			level INTEGER NOT NULL DEFAULT 1,
			current_streak INTEGER NOT NULL DEFAULT 0,
			longest_streak INTEGER NOT NULL DEFAULT 0,
			last_activity_date TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS xp_ledger (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			action TEXT NOT NULL,
			xp_gained INTEGER NOT NULL,
			total_xp_after INTEGER NOT NULL,
			source_task_id TEXT NOT NULL DEFAULT '',
			occurrence_key TEXT NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE(user_id, action, occurrence_key)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_xp_ledger_user_seq ON xp_ledger(user_id, seq);`,
		`CREATE TABLE IF NOT EXISTS task_candidates (
			user_id TEXT NOT NULL,
			id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			estimated_minutes INTEGER NOT NULL DEFAULT 0,
			priority TEXT NOT NULL,
			tags_json TEXT NOT NULL DEFAULT '[]',
			deadline TEXT,
			depends_on TEXT NOT NULL DEFAULT '',
			completed_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY(user_id, id)
		);`,
		`CREATE TABLE IF NOT EXISTS user_profiles (
			user_id TEXT PRIMARY KEY,
			optimal_session_minutes INTEGER NOT NULL DEFAULT 0,
			timezone TEXT NOT NULL DEFAULT '',
			avoid_tags_json TEXT NOT NULL DEFAULT '{}',
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS event_log (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			phase TEXT NOT NULL,
			kind TEXT NOT NULL,
			action TEXT NOT NULL DEFAULT '',
			task_id TEXT NOT NULL DEFAULT '',
			trace_id TEXT NOT NULL DEFAULT '',
			occurred_at TEXT NOT NULL,
			committed_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_event_log_user_seq ON event_log(user_id, seq);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// LoadState returns the persisted graph state for userID.
func (r *Repository) LoadState(ctx context.Context, userID string) (domain.GraphState, error) {
	var (
		raw     string
		version int64
	)
	err := r.db.QueryRowContext(ctx, `SELECT state_json, version FROM graph_states WHERE user_id = ?`, userID).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.GraphState{}, app.ErrNotFound
	}
	if err != nil {
		return domain.GraphState{}, err
	}
	var state domain.GraphState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return domain.GraphState{}, fmt.Errorf("decode graph state: %w", err)
	}
	state.Version = version
	if state.Candidates == nil {
		state.Candidates = []string{}
	}
	if state.InterventionLog == nil {
		state.InterventionLog = []domain.StuckEpisode{}
	}
	if state.CompletedToday == nil {
		state.CompletedToday = []string{}
	}
	return state, nil
}

// LoadGamificationState returns the derived XP summary for userID.
func (r *Repository) LoadGamificationState(ctx context.Context, userID string) (domain.GamificationState, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT user_id, total_xp, level, current_streak, longest_streak, last_activity_date
		FROM gamification
		WHERE user_id = ?
	`, userID)
	var game domain.GamificationState
	err := row.Scan(&game.UserID, &game.TotalXP, &game.Level, &game.CurrentStreak, &game.LongestStreak, &game.LastActivityDate)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.GamificationState{}, app.ErrNotFound
	}
	if err != nil {
		return domain.GamificationState{}, err
	}
	return game, nil
}

// ListLedgerEntries returns the user's ledger in append order.
func (r *Repository) ListLedgerEntries(ctx context.Context, userID string) ([]domain.XpLedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, action, xp_gained, total_xp_after, source_task_id, occurrence_key, created_at
		FROM xp_ledger
		WHERE user_id = ?
		ORDER BY seq ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.XpLedgerEntry, 0)
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// ListCandidates returns the user's task projection ordered by id.
func (r *Repository) ListCandidates(ctx context.Context, userID string, filter app.CandidateFilter) ([]domain.TaskCandidate, error) {
	query := `
		SELECT id, title, estimated_minutes, priority, tags_json, deadline, depends_on, completed_at
		FROM task_candidates
		WHERE user_id = ?
	`
	if !filter.IncludeCompleted {
		query += ` AND completed_at IS NULL`
	}
	query += ` ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.TaskCandidate, 0)
	for rows.Next() {
		candidate, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, candidate)
	}
	return out, rows.Err()
}

// LoadProfile returns the learned profile for userID.
func (r *Repository) LoadProfile(ctx context.Context, userID string) (domain.UserProfile, error) {
	var (
		profile  domain.UserProfile
		avoidRaw string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, optimal_session_minutes, timezone, avoid_tags_json
		FROM user_profiles
		WHERE user_id = ?
	`, userID).Scan(&profile.UserID, &profile.OptimalSessionMinutes, &profile.Timezone, &avoidRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UserProfile{}, app.ErrNotFound
	}
	if err != nil {
		return domain.UserProfile{}, err
	}
	if err := json.Unmarshal([]byte(avoidRaw), &profile.AvoidTagsByFocus); err != nil {
		return domain.UserProfile{}, fmt.Errorf("decode avoid tags: %w", err)
	}
	return profile, nil
}

// CommitEvent writes the state, ledger entries, gamification summary, catalog rows, completed
// tasks and event log row in one transaction. Nothing is written when any step fails.
func (r *Repository) CommitEvent(ctx context.Context, c app.Commit) (err error) {
	stateJSON, err := json.Marshal(c.State)
	if err != nil {
		return fmt.Errorf("encode graph state: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM graph_states WHERE user_id = ?`, c.UserID).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		current, err = 0, nil
	case err != nil:
		return err
	}
	if current != c.ExpectedVersion {
		return fmt.Errorf("user %q at version %d, expected %d: %w", c.UserID, current, c.ExpectedVersion, app.ErrVersionConflict)
	}

	committedAt := ts(c.CommittedAt)
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO graph_states(user_id, phase, session_date, state_json, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			phase = excluded.phase,
			session_date = excluded.session_date,
			state_json = excluded.state_json,
			version = excluded.version,
			updated_at = excluded.updated_at
	`, c.UserID, string(c.State.Phase), c.State.SessionDate, string(stateJSON), c.State.Version, committedAt); err != nil {
		return err
	}

	if c.Profile != nil {
		if err = saveProfile(ctx, tx, *c.Profile, committedAt); err != nil {
			return err
		}
	}
	for _, cand := range c.Candidates {
		if err = upsertCandidate(ctx, tx, c.UserID, cand, committedAt); err != nil {
			return err
		}
	}

	var total int
	if err = tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(xp_gained), 0) FROM xp_ledger WHERE user_id = ?`, c.UserID).Scan(&total); err != nil {
		return err
	}
	for _, entry := range c.LedgerEntries {
		total += entry.XPGained
		if entry.TotalXPAfter != total {
			return fmt.Errorf("ledger entry %s total_xp_after=%d, running sum=%d: %w", entry.ID, entry.TotalXPAfter, total, app.ErrLedgerMismatch)
		}
		if err = insertLedgerEntry(ctx, tx, entry); err != nil {
			return err
		}
	}
	if c.Gamification.TotalXP != total {
		return fmt.Errorf("gamification total_xp=%d, ledger sum=%d: %w", c.Gamification.TotalXP, total, app.ErrLedgerMismatch)
	}

	g := c.Gamification
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO gamification(user_id, total_xp, level, current_streak, longest_streak, last_activity_date, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			total_xp = excluded.total_xp,
			level = excluded.level,
			current_streak = excluded.current_streak,
			longest_streak = excluded.longest_streak,
			last_activity_date = excluded.last_activity_date,
			updated_at = excluded.updated_at
	`, c.UserID, g.TotalXP, max(g.Level, 1), g.CurrentStreak, g.LongestStreak, g.LastActivityDate, committedAt); err != nil {
		return err
	}

	for _, taskID := range c.CompletedTaskIDs {
		if _, err = tx.ExecContext(ctx, `
			UPDATE task_candidates
			SET completed_at = ?, updated_at = ?
			WHERE user_id = ? AND id = ? AND completed_at IS NULL
		`, committedAt, committedAt, c.UserID, taskID); err != nil {
			return err
		}
	}

	if rec := c.State.LastEvent; rec != nil {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO event_log(user_id, version, phase, kind, action, task_id, trace_id, occurred_at, committed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, c.UserID, c.State.Version, string(c.State.Phase), string(rec.Kind), string(rec.Action), rec.TaskID, rec.TraceID, ts(rec.Timestamp), committedAt); err != nil {
			return err
		}
	}

	err = tx.Commit()
	return err
}

// UpsertCandidate inserts or replaces one task candidate.
func (r *Repository) UpsertCandidate(ctx context.Context, userID string, c domain.TaskCandidate) error {
	return upsertCandidate(ctx, r.db, userID, c, ts(time.Now()))
}

// SaveProfile inserts or replaces the user's profile.
func (r *Repository) SaveProfile(ctx context.Context, p domain.UserProfile) error {
	return saveProfile(ctx, r.db, p, ts(time.Now()))
}

func upsertCandidate(ctx context.Context, execer execerContext, userID string, c domain.TaskCandidate, now string) error {
	tagsJSON, err := json.Marshal(nonNilStrings(c.Tags))
	if err != nil {
		return err
	}
	_, err = execer.ExecContext(ctx, `
		INSERT INTO task_candidates(user_id, id, title, estimated_minutes, priority, tags_json, deadline, depends_on, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, id) DO UPDATE SET
			title = excluded.title,
			estimated_minutes = excluded.estimated_minutes,
			priority = excluded.priority,
			tags_json = excluded.tags_json,
			deadline = excluded.deadline,
			depends_on = excluded.depends_on,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at
	`, userID, c.ID, c.Title, c.EstimatedMinutes, string(c.Priority), string(tagsJSON), nullableTS(c.Deadline), c.DependsOn, nullableTS(c.CompletedAt), now, now)
	return err
}

func saveProfile(ctx context.Context, execer execerContext, p domain.UserProfile, now string) error {
	avoid := p.AvoidTagsByFocus
	if avoid == nil {
		avoid = map[string][]string{}
	}
	avoidJSON, err := json.Marshal(avoid)
	if err != nil {
		return err
	}
	_, err = execer.ExecContext(ctx, `
		INSERT INTO user_profiles(user_id, optimal_session_minutes, timezone, avoid_tags_json, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			optimal_session_minutes = excluded.optimal_session_minutes,
			timezone = excluded.timezone,
			avoid_tags_json = excluded.avoid_tags_json,
			updated_at = excluded.updated_at
	`, p.UserID, p.OptimalSessionMinutes, p.Timezone, string(avoidJSON), now)
	return err
}

// ListEventLog returns up to limit committed events for userID, newest first.
func (r *Repository) ListEventLog(ctx context.Context, userID string, limit int) ([]app.EventLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT seq, user_id, version, phase, kind, action, task_id, trace_id, occurred_at, committed_at
		FROM event_log
		WHERE user_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]app.EventLogEntry, 0)
	for rows.Next() {
		var (
			entry                  app.EventLogEntry
			phase, kind, action    string
			occurredRaw, commitRaw string
		)
		if err := rows.Scan(&entry.Seq, &entry.UserID, &entry.Version, &phase, &kind, &action, &entry.Event.TaskID, &entry.Event.TraceID, &occurredRaw, &commitRaw); err != nil {
			return nil, err
		}
		entry.Phase = domain.Phase(phase)
		entry.Event.Kind = domain.EventKind(kind)
		entry.Event.Action = domain.Action(action)
		entry.Event.Timestamp = parseTS(occurredRaw)
		entry.CommittedAt = parseTS(commitRaw)
		out = append(out, entry)
	}
	return out, rows.Err()
}

// execerContext represents a write-only DB contract used by DB and Tx implementations.
type execerContext interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}

// insertLedgerEntry appends one ledger row, mapping the idempotency constraint onto ErrDuplicateLedgerEntry.
func insertLedgerEntry(ctx context.Context, execer execerContext, e domain.XpLedgerEntry) error {
	_, err := execer.ExecContext(ctx, `
		INSERT INTO xp_ledger(id, user_id, action, xp_gained, total_xp_after, source_task_id, occurrence_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.UserID, string(e.Action), e.XPGained, e.TotalXPAfter, e.SourceTaskID, e.OccurrenceKey, ts(e.Timestamp))
	if isUniqueConstraintErr(err) {
		return fmt.Errorf("ledger %s/%s/%s: %w", e.UserID, e.Action, e.OccurrenceKey, app.ErrDuplicateLedgerEntry)
	}
	return err
}

// scanner represents scanner data used by this package.
type scanner interface {
	Scan(dest ...any) error
}

// scanLedgerEntry handles scan ledger entry.
func scanLedgerEntry(s scanner) (domain.XpLedgerEntry, error) {
	var (
		entry     domain.XpLedgerEntry
		action    string
		createdAt string
	)
	if err := s.Scan(&entry.ID, &entry.UserID, &action, &entry.XPGained, &entry.TotalXPAfter, &entry.SourceTaskID, &entry.OccurrenceKey, &createdAt); err != nil {
		return domain.XpLedgerEntry{}, err
	}
	entry.Action = domain.LedgerAction(action)
	entry.Timestamp = parseTS(createdAt)
	return entry, nil
}

// scanCandidate handles scan candidate.
func scanCandidate(s scanner) (domain.TaskCandidate, error) {
	var (
		c           domain.TaskCandidate
		priority    string
		tagsRaw     string
		deadline    sql.NullString
		completedAt sql.NullString
	)
	if err := s.Scan(&c.ID, &c.Title, &c.EstimatedMinutes, &priority, &tagsRaw, &deadline, &c.DependsOn, &completedAt); err != nil {
		return domain.TaskCandidate{}, err
	}
	if err := json.Unmarshal([]byte(tagsRaw), &c.Tags); err != nil {
		return domain.TaskCandidate{}, fmt.Errorf("decode tags for %s: %w", c.ID, err)
	}
	c.Priority = domain.Priority(priority)
	c.Deadline = parseNullTS(deadline)
	c.CompletedAt = parseNullTS(completedAt)
	return c, nil
}

// ts handles ts.
func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// nullableTS handles nullable ts.
func nullableTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTS parses input into a normalized form.
func parseTS(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

// parseNullTS parses input into a normalized form.
func parseNullTS(v sql.NullString) *time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	ts := parseTS(v.String)
	return &ts
}

// isUniqueConstraintErr reports whether the expected condition is satisfied.
func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
