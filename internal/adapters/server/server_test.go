package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hylla/nudge/internal/adapters/server/common"
	"github.com/hylla/nudge/internal/adapters/storage/sqlite"
	"github.com/hylla/nudge/internal/app"
	"github.com/hylla/nudge/internal/domain"
)

func newTestDeps(t *testing.T) (Dependencies, *app.Service) {
	t.Helper()
	repo, err := sqlite.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc := app.NewService(repo, nil, func() time.Time { return now }, app.ServiceConfig{StorageTimeout: 5 * time.Second})
	return Dependencies{Events: common.NewAppServiceAdapter(svc), Ready: repo.Ping}, svc
}

func TestNormalizeConfigDefaults(t *testing.T) {
	cfg, err := normalizeConfig(Config{APIEndpoint: "api/v2/", MCPEndpoint: " "})
	if err != nil {
		t.Fatalf("normalizeConfig() error = %v", err)
	}
	if cfg.HTTPBind != defaultBindAddress || cfg.APIEndpoint != "/api/v2" || cfg.MCPEndpoint != "/mcp" {
		t.Fatalf("unexpected config %#v", cfg)
	}
	if cfg.ServerName != "nudge" || cfg.ServerVersion != "dev" {
		t.Fatalf("unexpected server identity %#v", cfg)
	}
	if _, err := normalizeConfig(Config{APIEndpoint: "/x", MCPEndpoint: "x/"}); err == nil {
		t.Fatal("expected endpoint collision error")
	}
}

func TestNewHandlerRequiresEvents(t *testing.T) {
	if _, _, err := NewHandler(Config{}, Dependencies{}); err == nil {
		t.Fatal("expected error without events dependency")
	}
}

func TestHandlerHealthAndReadiness(t *testing.T) {
	deps, _ := newTestDeps(t)
	handler, _, err := NewHandler(Config{}, deps)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}

	deps.Ready = func(context.Context) error { return errors.New("db locked") }
	handler, _, err = NewHandler(Config{}, deps)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHandlerProcessesEventsEndToEnd(t *testing.T) {
	deps, svc := newTestDeps(t)
	ctx := context.Background()
	if _, err := svc.AddCandidate(ctx, "u1", domain.TaskCandidateInput{ID: "a", Title: "Write report", EstimatedMinutes: 25, Priority: domain.PriorityHigh}); err != nil {
		t.Fatalf("AddCandidate() error = %v", err)
	}
	handler, _, err := NewHandler(Config{}, deps)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}

	post := func(body string) (int, common.EventResponse) {
		t.Helper()
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body)))
		var resp common.EventResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		return rec.Code, resp
	}

	code, resp := post(`{"type":"check_in_submitted","user_id":"u1","timestamp":"2026-03-02T09:00:00Z","energy_level":8,"mood":"focused"}`)
	if code != http.StatusOK || resp.Phase != domain.PhaseCheckedIn || resp.Version != 1 {
		t.Fatalf("check-in = %d %#v", code, resp)
	}
	code, resp = post(`{"type":"do_action","user_id":"u1","timestamp":"2026-03-02T09:01:00Z","action":"pause","task_id":"a"}`)
	if code != http.StatusConflict || resp.Error == nil || resp.Error.Code != app.CodeStateConsistency {
		t.Fatalf("pause without start = %d %#v", code, resp)
	}
	code, resp = post(`{"type":"check_in_submitted","user_id":"u1","energy_level":11}`)
	if code != http.StatusBadRequest || resp.Error == nil || resp.Error.Field != "energy_level" {
		t.Fatalf("bad energy = %d %#v", code, resp)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/users/u1/ledger", nil))
	var report app.LedgerReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !report.Verified || report.Gamification.TotalXP != 5 {
		t.Fatalf("unexpected ledger %#v", report)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/users/u1/history", nil))
	var history common.HistoryResponse
	if err := json.NewDecoder(rec.Body).Decode(&history); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(history.Entries) != 1 || history.Entries[0].Event.Kind != domain.EventCheckInSubmitted {
		t.Fatalf("unexpected history %#v", history)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	deps, _ := newTestDeps(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Config{HTTPBind: "127.0.0.1:0"}, deps)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
