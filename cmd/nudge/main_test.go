package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	charmLog "github.com/charmbracelet/log"

	serveradapter "github.com/hylla/nudge/internal/adapters/server"
	servercommon "github.com/hylla/nudge/internal/adapters/server/common"
	"github.com/hylla/nudge/internal/app"
	"github.com/hylla/nudge/internal/config"
	"github.com/hylla/nudge/internal/domain"
)

// cliHarness runs commands against one temp config and database.
type cliHarness struct {
	t          *testing.T
	configPath string
	dbPath     string
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("NUDGE_CONFIG", "")
	t.Setenv("NUDGE_DB_PATH", "")
	t.Setenv("NUDGE_DEV_MODE", "false")
	return &cliHarness{
		t:          t,
		configPath: filepath.Join(dir, "config.toml"),
		dbPath:     filepath.Join(dir, "nudge.db"),
	}
}

// run executes one command line and returns stdout, stderr and the error.
func (h *cliHarness) run(args ...string) (string, string, error) {
	h.t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCommand(&stdout, &stderr)
	full := append([]string{"--config", h.configPath, "--db", h.dbPath}, args...)
	root.SetArgs(full)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// mustRun fails the test when the command errors.
func (h *cliHarness) mustRun(args ...string) string {
	h.t.Helper()
	out, errOut, err := h.run(args...)
	if err != nil {
		h.t.Fatalf("run %v error = %v (stderr %q)", args, err, errOut)
	}
	return out
}

func TestPathsCommand(t *testing.T) {
	h := newCLIHarness(t)
	out := h.mustRun("paths")
	for _, want := range []string{"app: nudge", "dev_mode: false", "config: " + h.configPath, "db: " + h.dbPath, "log_dir:"} {
		if !strings.Contains(out, want) {
			t.Fatalf("paths output missing %q:\n%s", want, out)
		}
	}
}

func TestInitWritesDefaultConfig(t *testing.T) {
	h := newCLIHarness(t)
	out := h.mustRun("init")
	if !strings.Contains(out, h.configPath) {
		t.Fatalf("unexpected init output %q", out)
	}
	cfg, err := config.Load(h.configPath, config.Default("/unused.db"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != h.dbPath {
		t.Fatalf("expected db path %q, got %q", h.dbPath, cfg.Database.Path)
	}
	if _, _, err := h.run("init"); err == nil {
		t.Fatal("expected error when config already exists")
	}
	h.mustRun("init", "--force")
}

func TestEventFlowEndToEnd(t *testing.T) {
	h := newCLIHarness(t)
	h.mustRun("task", "add", "--user", "u1", "--id", "a", "--title", "Write report", "--minutes", "25", "--priority", "high")
	h.mustRun("profile", "--user", "u1", "--session-minutes", "30", "--timezone", "UTC", "--avoid", "deep=email|chat")

	var resp servercommon.EventResponse
	out := h.mustRun("--json", "event", "check_in_submitted", "--user", "u1", "--energy", "8", "--mood", "focused")
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("Unmarshal() error = %v\n%s", err, out)
	}
	if !resp.Success || resp.Phase != domain.PhaseCheckedIn || resp.Version != 1 {
		t.Fatalf("unexpected check-in response %#v", resp)
	}

	resp = servercommon.EventResponse{}
	out = h.mustRun("--json", "event", "do_next", "--user", "u1")
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("Unmarshal() error = %v\n%s", err, out)
	}
	selected, _ := resp.Data["selected"].(map[string]any)
	if !resp.Success || resp.Phase != domain.PhaseTaskSelected || selected["id"] != "a" {
		t.Fatalf("unexpected do_next response %#v", resp)
	}

	out = h.mustRun("event", "do_action", "--user", "u1", "--action", "start", "--task", "a")
	if !strings.Contains(out, "OK") || !strings.Contains(out, string(domain.PhaseTaskActive)) {
		t.Fatalf("unexpected rendered start output %q", out)
	}

	out, _, err := h.run("event", "do_action", "--user", "u1", "--action", "start", "--task", "missing")
	if err == nil {
		t.Fatal("expected failure for unknown task")
	}
	if !strings.Contains(out, "FAILED") {
		t.Fatalf("expected rendered failure, got %q", out)
	}

	var view app.UserView
	out = h.mustRun("--json", "status", "--user", "u1")
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if view.State.ActiveTask == nil || view.State.ActiveTask.TaskID != "a" || view.Gamification.TotalXP != 5 {
		t.Fatalf("unexpected status %#v", view)
	}

	out = h.mustRun("ledger", "verify", "--user", "u1")
	if !strings.Contains(out, "ledger verified") {
		t.Fatalf("unexpected ledger output %q", out)
	}

	var history servercommon.HistoryResponse
	out = h.mustRun("--json", "history", "--user", "u1", "--limit", "2")
	if err := json.Unmarshal([]byte(out), &history); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(history.Entries) != 2 || history.Entries[0].Event.Kind != domain.EventDoAction {
		t.Fatalf("unexpected history %#v", history)
	}
}

func TestEventCommandRequiresUser(t *testing.T) {
	h := newCLIHarness(t)
	if _, _, err := h.run("event", "app_open"); err == nil || !strings.Contains(err.Error(), "--user") {
		t.Fatalf("expected --user error, got %v", err)
	}
	if _, _, err := h.run("event", "app_open", "--user", "u1", "--at", "yesterday"); err == nil {
		t.Fatal("expected timestamp parse error")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	h := newCLIHarness(t)
	h.mustRun("task", "add", "--user", "u1", "--id", "a", "--title", "Write report")
	h.mustRun("event", "check_in_submitted", "--user", "u1", "--energy", "6")

	snapPath := filepath.Join(t.TempDir(), "out", "u1.json")
	h.mustRun("export", "--user", "u1", "--out", snapPath)
	content, err := os.ReadFile(snapPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var snap app.Snapshot
	if err := json.Unmarshal(content, &snap); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if snap.Version != app.SnapshotVersion || snap.UserID != "u1" || len(snap.Ledger) != 1 || len(snap.Candidates) != 1 {
		t.Fatalf("unexpected snapshot %#v", snap)
	}

	target := &cliHarness{t: t, configPath: h.configPath, dbPath: filepath.Join(t.TempDir(), "restored.db")}
	out := target.mustRun("import", "--in", snapPath)
	if !strings.Contains(out, "imported") {
		t.Fatalf("unexpected import output %q", out)
	}
	target.mustRun("ledger", "verify", "--user", "u1")

	if _, _, err := target.run("import", "--in", snapPath); err == nil {
		t.Fatal("expected error importing into a user with state")
	}
	if _, _, err := target.run("import"); err == nil {
		t.Fatal("expected error without --in")
	}
}

func TestServeCommandWiresDependencies(t *testing.T) {
	h := newCLIHarness(t)
	var (
		gotCfg  serveradapter.Config
		gotDeps serveradapter.Dependencies
	)
	orig := serveCommandRunner
	t.Cleanup(func() { serveCommandRunner = orig })
	serveCommandRunner = func(ctx context.Context, cfg serveradapter.Config, deps serveradapter.Dependencies) error {
		gotCfg = cfg
		gotDeps = deps
		if err := deps.Ready(ctx); err != nil {
			return err
		}
		_, err := deps.Events.ProcessEvent(ctx, domain.EventEnvelope{Type: domain.EventAppOpen, UserID: "u1"})
		return err
	}

	h.mustRun("serve", "--http", "127.0.0.1:9999", "--mcp-endpoint", "/tools")
	if gotCfg.HTTPBind != "127.0.0.1:9999" || gotCfg.MCPEndpoint != "/tools" || gotCfg.APIEndpoint != "/api/v1" {
		t.Fatalf("unexpected serve config %#v", gotCfg)
	}
	if gotCfg.ServerName != "nudge" || gotCfg.ServerVersion != version {
		t.Fatalf("unexpected server identity %#v", gotCfg)
	}
	if gotDeps.Events == nil || gotDeps.Logger == nil {
		t.Fatalf("expected wired dependencies %#v", gotDeps)
	}

	serveCommandRunner = func(context.Context, serveradapter.Config, serveradapter.Dependencies) error {
		return errors.New("bind failed")
	}
	if _, _, err := h.run("serve"); err == nil || !strings.Contains(err.Error(), "bind failed") {
		t.Fatalf("expected serve error, got %v", err)
	}
}

// stubText records requests for the genai factory test.
type stubText struct{}

func (stubText) Generate(context.Context, app.TextRequest) (string, error) {
	return "stub", nil
}

func TestNewTextGeneratorSelectsProvider(t *testing.T) {
	logger, err := newRuntimeLogger(nil, "nudge", false, config.LoggingConfig{Level: "info"}, "", nil)
	if err != nil {
		t.Fatalf("newRuntimeLogger() error = %v", err)
	}
	ctx := context.Background()

	gen, err := newTextGenerator(ctx, config.TextGenConfig{Provider: config.TextGenNone}, logger)
	if err != nil || gen != nil {
		t.Fatalf("none provider = %v, %v", gen, err)
	}

	gen, err = newTextGenerator(ctx, config.TextGenConfig{Provider: config.TextGenTemplate, Templates: map[string]string{"no_task": "Rest now."}}, logger)
	if err != nil {
		t.Fatalf("template provider error = %v", err)
	}
	text, err := gen.Generate(ctx, app.TextRequest{Purpose: app.TextNoTask})
	if err != nil || text != "Rest now." {
		t.Fatalf("template override = %q, %v", text, err)
	}

	if _, err := newTextGenerator(ctx, config.TextGenConfig{Provider: config.TextGenTemplate, Templates: map[string]string{"coaching": "{{"}}, logger); err == nil {
		t.Fatal("expected template parse error")
	}

	orig := genAIFactory
	t.Cleanup(func() { genAIFactory = orig })
	var gotModel string
	genAIFactory = func(_ context.Context, apiKey, model string) (app.TextGenerator, error) {
		gotModel = model
		if apiKey != "secret" {
			t.Fatalf("unexpected api key %q", apiKey)
		}
		return stubText{}, nil
	}

	t.Setenv("NUDGE_TEST_KEY", "")
	gen, err = newTextGenerator(ctx, config.TextGenConfig{Provider: config.TextGenGenAI, APIKeyEnv: "NUDGE_TEST_KEY"}, logger)
	if err != nil {
		t.Fatalf("genai without key error = %v", err)
	}
	if _, ok := gen.(stubText); ok {
		t.Fatal("expected template fallback without api key")
	}

	t.Setenv("NUDGE_TEST_KEY", "secret")
	gen, err = newTextGenerator(ctx, config.TextGenConfig{Provider: config.TextGenGenAI, APIKeyEnv: "NUDGE_TEST_KEY"}, logger)
	if err != nil {
		t.Fatalf("genai error = %v", err)
	}
	if _, ok := gen.(stubText); !ok || gotModel == "" {
		t.Fatalf("expected genai generator with default model, got %T model %q", gen, gotModel)
	}
}

func TestServiceConfigFromMapsXP(t *testing.T) {
	cfg := config.Default("/tmp/nudge.db")
	cfg.XP.CheckIn = 7
	cfg.Orchestrator.StorageTimeout = config.Duration{Duration: 900 * time.Millisecond}
	got := serviceConfigFrom(cfg)
	if got.XP.CheckIn != 7 || got.XP.DayEndCap != cfg.XP.DayEndCap || got.StorageTimeout != 900*time.Millisecond {
		t.Fatalf("unexpected service config %#v", got)
	}
}

func TestRuntimeLoggerDevFileSink(t *testing.T) {
	dir := t.TempDir()
	now := func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }
	var console bytes.Buffer
	logger, err := newRuntimeLogger(&console, "nudge dev", true, config.LoggingConfig{
		Level:   "debug",
		DevFile: config.DevFileConfig{Enabled: true, Dir: dir},
	}, "", now)
	if err != nil {
		t.Fatalf("newRuntimeLogger() error = %v", err)
	}
	want := filepath.Join(dir, "nudge-dev-20260302.log")
	if logger.DevLogPath() != want {
		t.Fatalf("DevLogPath() = %q, want %q", logger.DevLogPath(), want)
	}
	if logger.Primary() == nil || logger.Primary() == logger.consoleSink {
		t.Fatal("expected file sink as primary logger")
	}

	logger.SetConsoleEnabled(false)
	logger.Info("quiet console", "k", "v")
	logger.SetConsoleEnabled(true)
	logger.SetConsoleLevel(charmLog.WarnLevel)
	logger.Info("still quiet")
	logger.Warn("loud")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if strings.Contains(console.String(), "quiet") || !strings.Contains(console.String(), "loud") {
		t.Fatalf("unexpected console output %q", console.String())
	}
	content, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	for _, msg := range []string{"quiet console", "still quiet", "loud"} {
		if !strings.Contains(string(content), msg) {
			t.Fatalf("dev log missing %q:\n%s", msg, content)
		}
	}
}

func TestSanitizeLogFileStem(t *testing.T) {
	cases := map[string]string{
		"":           "nudge",
		" / ":        "nudge",
		"nudge":      "nudge",
		"my app:dev": "my-app-dev",
	}
	for in, want := range cases {
		if got := sanitizeLogFileStem(in); got != want {
			t.Fatalf("sanitizeLogFileStem(%q) = %q, want %q", in, got, want)
		}
	}
}
