package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	charmLog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	serveradapter "github.com/hylla/nudge/internal/adapters/server"
	"github.com/hylla/nudge/internal/adapters/storage/sqlite"
	"github.com/hylla/nudge/internal/adapters/telemetry"
	"github.com/hylla/nudge/internal/adapters/textgen"
	"github.com/hylla/nudge/internal/app"
	"github.com/hylla/nudge/internal/config"
	"github.com/hylla/nudge/internal/platform"
)

// version stores a package-level helper value.
var version = "dev"

// serveCommandRunner starts the HTTP+MCP serve flow.
var serveCommandRunner = func(ctx context.Context, cfg serveradapter.Config, deps serveradapter.Dependencies) error {
	return serveradapter.Run(ctx, cfg, deps)
}

// genAIFactory builds the hosted text generator.
var genAIFactory = func(ctx context.Context, apiKey, model string) (app.TextGenerator, error) {
	return textgen.NewGenAIGenerator(ctx, apiKey, model)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(os.Stdout, os.Stderr)
	if err := fang.Execute(ctx, root, fang.WithVersion(version)); err != nil {
		os.Exit(1)
	}
}

// globalOptions holds flags shared by every subcommand.
type globalOptions struct {
	configPath string
	dbPath     string
	appName    string
	devMode    bool
	jsonOutput bool
}

// newRootCommand builds the nudge command tree writing to stdout and stderr.
func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	opts := &globalOptions{appName: "nudge", devMode: version == "dev"}
	if envDev, ok := parseBoolEnv("NUDGE_DEV_MODE"); ok {
		opts.devMode = envDev
	}
	if envApp := strings.TrimSpace(os.Getenv("NUDGE_APP_NAME")); envApp != "" {
		opts.appName = envApp
	}

	root := &cobra.Command{
		Use:           "nudge",
		Short:         "Event-driven next-task coach",
		Long:          "nudge picks the next task that fits your energy, tracks stuck episodes, and keeps an XP ledger.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config TOML")
	flags.StringVar(&opts.dbPath, "db", "", "path to sqlite database")
	flags.StringVar(&opts.appName, "app", opts.appName, "application name for config/data path resolution")
	flags.BoolVar(&opts.devMode, "dev", opts.devMode, "use dev mode paths (<app>-dev)")
	flags.BoolVar(&opts.jsonOutput, "json", false, "print raw JSON instead of rendered output")

	root.AddCommand(
		newPathsCommand(opts),
		newInitCommand(opts),
		newServeCommand(opts),
		newEventCommand(opts),
		newTaskCommand(opts),
		newProfileCommand(opts),
		newStatusCommand(opts),
		newLedgerCommand(opts),
		newHistoryCommand(opts),
		newExportCommand(opts),
		newImportCommand(opts),
	)
	return root
}

// resolvedPaths captures config and db locations after flag and env overrides.
type resolvedPaths struct {
	platform     platform.Paths
	configPath   string
	dbPath       string
	dbOverridden bool
}

// resolvePaths applies flag, env and platform defaults in that order.
func resolvePaths(opts *globalOptions) (resolvedPaths, error) {
	paths, err := platform.DefaultPathsWithOptions(platform.Options{
		AppName: opts.appName,
		DevMode: opts.devMode,
	})
	if err != nil {
		return resolvedPaths{}, err
	}
	out := resolvedPaths{
		platform:     paths,
		configPath:   strings.TrimSpace(opts.configPath),
		dbPath:       strings.TrimSpace(opts.dbPath),
		dbOverridden: strings.TrimSpace(opts.dbPath) != "",
	}
	if out.configPath == "" {
		if envPath := strings.TrimSpace(os.Getenv("NUDGE_CONFIG")); envPath != "" {
			out.configPath = envPath
		} else {
			out.configPath = paths.ConfigPath
		}
	}
	if !out.dbOverridden {
		if envPath := strings.TrimSpace(os.Getenv("NUDGE_DB_PATH")); envPath != "" {
			out.dbPath = envPath
			out.dbOverridden = true
		} else {
			out.dbPath = paths.DBPath
		}
	}
	return out, nil
}

// runtimeEnv is the wired service graph for one command invocation.
type runtimeEnv struct {
	cfg      config.Config
	paths    resolvedPaths
	logger   *runtimeLogger
	repo     *sqlite.Repository
	svc      *app.Service
	exporter *telemetry.Exporter
}

// openRuntime loads config, opens storage and builds the orchestrator service.
func openRuntime(ctx context.Context, opts *globalOptions, command string, stderr io.Writer) (*runtimeEnv, error) {
	paths, err := resolvePaths(opts)
	if err != nil {
		return nil, err
	}

	defaultCfg := config.Default(paths.dbPath)
	cfg, err := config.Load(paths.configPath, defaultCfg)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", paths.configPath, err)
	}
	if paths.dbOverridden {
		cfg.Database.Path = paths.dbPath
	}

	logger, err := newRuntimeLogger(stderr, opts.appName, opts.devMode, cfg.Logging, paths.platform.LogDir, time.Now)
	if err != nil {
		return nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	if command != "serve" {
		// One-shot commands print results on stdout; runtime logs stay in the dev-file sink.
		logger.SetConsoleEnabled(logger.DevLogPath() == "")
		logger.SetConsoleLevel(charmLog.WarnLevel)
	}
	env := &runtimeEnv{cfg: cfg, paths: paths, logger: logger}

	logger.Info("startup configuration resolved", "app", opts.appName, "dev_mode", opts.devMode, "command", command)
	logger.Debug("runtime paths resolved", "config_path", paths.configPath, "data_dir", paths.platform.DataDir, "db_path", paths.dbPath)
	logger.Info("configuration loaded", "config_path", paths.configPath, "db_path", cfg.Database.Path, "log_level", cfg.Logging.Level, "textgen", cfg.TextGen.Provider)
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Info("dev file logging enabled", "path", devPath)
	}

	logger.Info("opening sqlite repository", "db_path", cfg.Database.Path)
	repo, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Error("sqlite open failed", "db_path", cfg.Database.Path, "err", err)
		_ = logger.Close()
		return nil, fmt.Errorf("open sqlite repository: %w", err)
	}
	env.repo = repo
	logger.Info("sqlite repository ready", "db_path", cfg.Database.Path, "migrations", "ensured")

	svcLogger := logger.Primary()
	svcOpts := []app.Option{app.WithLogger(svcLogger)}
	gen, err := newTextGenerator(ctx, cfg.TextGen, logger)
	if err != nil {
		env.Close(stderr)
		return nil, fmt.Errorf("configure text generator: %w", err)
	}
	if gen != nil {
		svcOpts = append(svcOpts, app.WithTextGenerator(gen))
	}
	if cfg.Telemetry.Enabled {
		env.exporter = telemetry.NewExporter(telemetry.LogSink{Logger: svcLogger}, cfg.Telemetry.BufferSize, svcLogger)
		svcOpts = append(svcOpts, app.WithTracer(env.exporter))
	}

	env.svc = app.NewService(repo, nil, nil, serviceConfigFrom(cfg), svcOpts...)
	logger.Debug("application service initialized", "storage_timeout", cfg.Orchestrator.StorageTimeout, "textgen_timeout", cfg.Orchestrator.TextGenTimeout, "telemetry", cfg.Telemetry.Enabled)
	return env, nil
}

// Close flushes telemetry and releases storage and log sinks.
func (e *runtimeEnv) Close(stderr io.Writer) {
	if e == nil {
		return
	}
	if e.exporter != nil {
		if err := e.exporter.Close(); err != nil {
			e.logger.Warn("telemetry close failed", "err", err)
		}
	}
	if e.repo != nil {
		if err := e.repo.Close(); err != nil {
			e.logger.Warn("sqlite close failed", "db_path", e.cfg.Database.Path, "err", err)
		}
	}
	if err := e.logger.Close(); err != nil && stderr != nil {
		_, _ = fmt.Fprintf(stderr, "warning: close runtime log sink: %v\n", err)
	}
}

// serviceConfigFrom maps persisted config onto orchestrator settings.
func serviceConfigFrom(cfg config.Config) app.ServiceConfig {
	return app.ServiceConfig{
		StorageTimeout:    cfg.Orchestrator.StorageTimeout.Duration,
		TextTimeout:       cfg.Orchestrator.TextGenTimeout.Duration,
		DefaultMaxMinutes: cfg.Orchestrator.DefaultMaxMinutes,
		DefaultTimezone:   cfg.Orchestrator.DefaultTimezone,
		XP: app.XPTable{
			CheckIn:           cfg.XP.CheckIn,
			TaskCompletedBase: cfg.XP.TaskCompletedBase,
			TaskCompletedCap:  cfg.XP.TaskCompletedCap,
			StuckResolved:     cfg.XP.StuckResolved,
			DayEndPerStreak:   cfg.XP.DayEndPerStreak,
			DayEndCap:         cfg.XP.DayEndCap,
		},
	}
}

// newTextGenerator selects the coaching text backend. A nil generator means built-in fallback copy only.
func newTextGenerator(ctx context.Context, cfg config.TextGenConfig, logger *runtimeLogger) (app.TextGenerator, error) {
	overrides := make(map[app.TextPurpose]string, len(cfg.Templates))
	for purpose, src := range cfg.Templates {
		overrides[app.TextPurpose(strings.TrimSpace(purpose))] = src
	}

	switch cfg.Provider {
	case config.TextGenNone:
		return nil, nil
	case config.TextGenGenAI:
		apiKey := strings.TrimSpace(os.Getenv(cfg.APIKeyEnv))
		if apiKey != "" {
			model := strings.TrimSpace(cfg.Model)
			if model == "" {
				model = textgen.DefaultGenAIModel
			}
			gen, err := genAIFactory(ctx, apiKey, model)
			if err != nil {
				return nil, err
			}
			logger.Info("text generator ready", "provider", "genai", "model", model)
			return gen, nil
		}
		logger.Warn("genai api key missing; using templates", "env", cfg.APIKeyEnv)
	}

	gen, err := textgen.NewTemplateGenerator(overrides)
	if err != nil {
		return nil, err
	}
	logger.Debug("text generator ready", "provider", "template", "overrides", len(overrides))
	return gen, nil
}

// parseBoolEnv parses input into a normalized form.
func parseBoolEnv(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
