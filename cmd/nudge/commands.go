package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	serveradapter "github.com/hylla/nudge/internal/adapters/server"
	servercommon "github.com/hylla/nudge/internal/adapters/server/common"
	"github.com/hylla/nudge/internal/app"
	"github.com/hylla/nudge/internal/config"
	"github.com/hylla/nudge/internal/domain"
)

// errLedgerUnverified reports a ledger whose running totals do not replay.
var errLedgerUnverified = errors.New("ledger verification failed")

// withRuntime opens the service graph for one command and closes it afterwards.
func withRuntime(cmd *cobra.Command, opts *globalOptions, name string, fn func(*runtimeEnv) error) error {
	env, err := openRuntime(cmd.Context(), opts, name, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer env.Close(cmd.ErrOrStderr())

	env.logger.Info("command flow start", "command", name)
	if err := fn(env); err != nil {
		env.logger.Error("command flow failed", "command", name, "err", err)
		return fmt.Errorf("run %s command: %w", name, err)
	}
	env.logger.Info("command flow complete", "command", name)
	return nil
}

// requireUser returns the trimmed --user value.
func requireUser(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("--user is required")
	}
	return userID, nil
}

func newPathsCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config, data and log locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := resolvePaths(opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "app: %s\n", opts.appName)
			_, _ = fmt.Fprintf(out, "dev_mode: %t\n", opts.devMode)
			_, _ = fmt.Fprintf(out, "config: %s\n", paths.configPath)
			_, _ = fmt.Fprintf(out, "data_dir: %s\n", paths.platform.DataDir)
			_, _ = fmt.Fprintf(out, "db: %s\n", paths.dbPath)
			_, _ = fmt.Fprintf(out, "log_dir: %s\n", paths.platform.LogDir)
			return nil
		},
	}
}

func newInitCommand(opts *globalOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := resolvePaths(opts)
			if err != nil {
				return err
			}
			if _, err := os.Stat(paths.configPath); err == nil && !force {
				return fmt.Errorf("config %q already exists (use --force to overwrite)", paths.configPath)
			}
			if err := config.Save(paths.configPath, config.Default(paths.dbPath)); err != nil {
				return fmt.Errorf("write default config: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", paths.configPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func newServeCommand(opts *globalOptions) *cobra.Command {
	var (
		httpBind    string
		apiEndpoint string
		mcpEndpoint string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and MCP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, "serve", func(env *runtimeEnv) error {
				serverCfg := env.cfg.Server
				if cmd.Flags().Changed("http") {
					serverCfg.HTTP = httpBind
				}
				if cmd.Flags().Changed("api-endpoint") {
					serverCfg.APIEndpoint = apiEndpoint
				}
				if cmd.Flags().Changed("mcp-endpoint") {
					serverCfg.MCPEndpoint = mcpEndpoint
				}
				return serveCommandRunner(cmd.Context(), serveradapter.Config{
					HTTPBind:      serverCfg.HTTP,
					APIEndpoint:   serverCfg.APIEndpoint,
					MCPEndpoint:   serverCfg.MCPEndpoint,
					ServerName:    opts.appName,
					ServerVersion: version,
				}, serveradapter.Dependencies{
					Events: servercommon.NewAppServiceAdapter(env.svc),
					Ready:  env.repo.Ping,
					Logger: env.logger.Primary(),
				})
			})
		},
	}
	cmd.Flags().StringVar(&httpBind, "http", "127.0.0.1:8080", "HTTP listen address")
	cmd.Flags().StringVar(&apiEndpoint, "api-endpoint", "/api/v1", "HTTP API base endpoint")
	cmd.Flags().StringVar(&mcpEndpoint, "mcp-endpoint", "/mcp", "MCP streamable HTTP endpoint")
	return cmd
}

// eventFlags collects the envelope fields accepted by the event command.
type eventFlags struct {
	userID     string
	at         string
	traceID    string
	energy     int
	mood       string
	focusAreas []string
	action     string
	taskID     string
	reason     string
}

func newEventCommand(opts *globalOptions) *cobra.Command {
	var f eventFlags
	kinds := make([]string, 0, len(domain.EventKinds()))
	for _, kind := range domain.EventKinds() {
		kinds = append(kinds, string(kind))
	}
	cmd := &cobra.Command{
		Use:       "event <type>",
		Short:     "Process one event for a user",
		Long:      "Process one event for a user. Types: " + strings.Join(kinds, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: kinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := buildEnvelope(args[0], f, cmd.Flags().Changed("energy"))
			if err != nil {
				return err
			}
			return withRuntime(cmd, opts, "event", func(rt *runtimeEnv) error {
				resp, err := servercommon.NewAppServiceAdapter(rt.svc).ProcessEvent(cmd.Context(), env)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
						return err
					}
				} else {
					renderEventResponse(cmd.OutOrStdout(), resp)
				}
				if !resp.Success && resp.Error != nil {
					return fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
				}
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.userID, "user", "", "user id")
	flags.StringVar(&f.at, "at", "", "event timestamp (RFC3339, default now)")
	flags.StringVar(&f.traceID, "trace", "", "trace id (default generated)")
	flags.IntVar(&f.energy, "energy", 0, "energy level 1-10 for check_in_submitted")
	flags.StringVar(&f.mood, "mood", "", "mood for check_in_submitted")
	flags.StringSliceVar(&f.focusAreas, "focus", nil, "focus areas for check_in_submitted")
	flags.StringVar(&f.action, "action", "", "do_action action (start, pause, complete, stuck)")
	flags.StringVar(&f.taskID, "task", "", "task id for do_action")
	flags.StringVar(&f.reason, "reason", "", "free-form reason for do_action")
	return cmd
}

// buildEnvelope maps CLI flags onto the event wire form.
func buildEnvelope(kind string, f eventFlags, energySet bool) (domain.EventEnvelope, error) {
	userID, err := requireUser(f.userID)
	if err != nil {
		return domain.EventEnvelope{}, err
	}
	env := domain.EventEnvelope{
		Type:       domain.EventKind(strings.TrimSpace(kind)),
		UserID:     userID,
		TraceID:    strings.TrimSpace(f.traceID),
		Mood:       strings.TrimSpace(f.mood),
		FocusAreas: f.focusAreas,
		Action:     domain.Action(strings.TrimSpace(f.action)),
		TaskID:     strings.TrimSpace(f.taskID),
		Reason:     strings.TrimSpace(f.reason),
	}
	if env.TraceID == "" {
		env.TraceID = uuid.NewString()
	}
	if at := strings.TrimSpace(f.at); at != "" {
		ts, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return domain.EventEnvelope{}, fmt.Errorf("parse --at: %w", err)
		}
		env.Timestamp = ts
	}
	if energySet {
		energy := f.energy
		env.EnergyLevel = &energy
	}
	return env, nil
}

func newTaskCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage task candidates",
	}
	cmd.AddCommand(newTaskAddCommand(opts))
	return cmd
}

func newTaskAddCommand(opts *globalOptions) *cobra.Command {
	var (
		userID    string
		id        string
		title     string
		minutes   int
		priority  string
		tags      []string
		deadline  string
		dependsOn string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or replace one task candidate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := requireUser(userID)
			if err != nil {
				return err
			}
			in := domain.TaskCandidateInput{
				ID:               strings.TrimSpace(id),
				Title:            title,
				EstimatedMinutes: minutes,
				Priority:         domain.Priority(strings.ToLower(strings.TrimSpace(priority))),
				Tags:             tags,
				DependsOn:        dependsOn,
			}
			if in.ID == "" {
				in.ID = uuid.NewString()
			}
			if raw := strings.TrimSpace(deadline); raw != "" {
				ts, err := time.Parse(time.RFC3339, raw)
				if err != nil {
					return fmt.Errorf("parse --deadline: %w", err)
				}
				in.Deadline = &ts
			}
			return withRuntime(cmd, opts, "task add", func(env *runtimeEnv) error {
				candidate, err := env.svc.AddCandidate(cmd.Context(), user, in)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), candidate)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s, %d min, %s)\n", okBadge.Render("added"), candidate.Title, candidate.ID, candidate.EstimatedMinutes, candidate.Priority)
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&userID, "user", "", "user id")
	flags.StringVar(&id, "id", "", "task id (default generated)")
	flags.StringVar(&title, "title", "", "task title")
	flags.IntVar(&minutes, "minutes", 25, "estimated minutes")
	flags.StringVar(&priority, "priority", string(domain.PriorityMedium), "priority (low, medium, high, urgent)")
	flags.StringSliceVar(&tags, "tags", nil, "task tags")
	flags.StringVar(&deadline, "deadline", "", "deadline (RFC3339)")
	flags.StringVar(&dependsOn, "depends-on", "", "id of a task that must be completed first")
	return cmd
}

func newProfileCommand(opts *globalOptions) *cobra.Command {
	var (
		userID         string
		sessionMinutes int
		timezone       string
		avoid          map[string]string
	)
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Save a user's scheduling profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := requireUser(userID)
			if err != nil {
				return err
			}
			profile := domain.UserProfile{
				UserID:                user,
				OptimalSessionMinutes: sessionMinutes,
				Timezone:              strings.TrimSpace(timezone),
			}
			if len(avoid) > 0 {
				profile.AvoidTagsByFocus = make(map[string][]string, len(avoid))
				for focus, raw := range avoid {
					for _, tag := range strings.Split(raw, "|") {
						if tag = strings.TrimSpace(tag); tag != "" {
							profile.AvoidTagsByFocus[focus] = append(profile.AvoidTagsByFocus[focus], tag)
						}
					}
				}
			}
			return withRuntime(cmd, opts, "profile", func(env *runtimeEnv) error {
				if err := env.svc.SaveProfile(cmd.Context(), profile); err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), profile)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s profile for %s\n", okBadge.Render("saved"), user)
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&userID, "user", "", "user id")
	flags.IntVar(&sessionMinutes, "session-minutes", 0, "optimal focus session length")
	flags.StringVar(&timezone, "timezone", "", "IANA timezone for day boundaries")
	flags.StringToStringVar(&avoid, "avoid", nil, "tags to avoid per focus area, e.g. deep=email|chat")
	return cmd
}

func newStatusCommand(opts *globalOptions) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a user's persisted state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := requireUser(userID)
			if err != nil {
				return err
			}
			return withRuntime(cmd, opts, "status", func(env *runtimeEnv) error {
				view, err := env.svc.UserState(cmd.Context(), user)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), view)
				}
				renderUserView(cmd.OutOrStdout(), view)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	return cmd
}

func newLedgerCommand(opts *globalOptions) *cobra.Command {
	var userID string
	show := func(cmd *cobra.Command, failOnMismatch bool) error {
		user, err := requireUser(userID)
		if err != nil {
			return err
		}
		return withRuntime(cmd, opts, "ledger", func(env *runtimeEnv) error {
			report, err := env.svc.Ledger(cmd.Context(), user)
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else {
				renderLedger(cmd.OutOrStdout(), report)
			}
			if failOnMismatch && !report.Verified {
				return fmt.Errorf("%w: %s", errLedgerUnverified, report.Problem)
			}
			return nil
		})
	}
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Show a user's XP ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return show(cmd, false)
		},
	}
	cmd.PersistentFlags().StringVar(&userID, "user", "", "user id")
	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Replay the ledger and fail when totals disagree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return show(cmd, true)
		},
	})
	return cmd
}

func newHistoryCommand(opts *globalOptions) *cobra.Command {
	var (
		userID string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List a user's committed events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := requireUser(userID)
			if err != nil {
				return err
			}
			return withRuntime(cmd, opts, "history", func(env *runtimeEnv) error {
				history, err := servercommon.NewAppServiceAdapter(env.svc).History(cmd.Context(), user, limit)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), history)
				}
				renderHistory(cmd.OutOrStdout(), history)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().IntVar(&limit, "limit", servercommon.DefaultHistoryLimit, "maximum entries")
	return cmd
}

func newExportCommand(opts *globalOptions) *cobra.Command {
	var (
		userID  string
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export one user's data as a JSON snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := requireUser(userID)
			if err != nil {
				return err
			}
			return withRuntime(cmd, opts, "export", func(env *runtimeEnv) error {
				snap, err := env.svc.ExportSnapshot(cmd.Context(), user)
				if err != nil {
					return fmt.Errorf("export snapshot: %w", err)
				}
				encoded, err := json.MarshalIndent(snap, "", "  ")
				if err != nil {
					return fmt.Errorf("encode snapshot json: %w", err)
				}
				encoded = append(encoded, '\n')

				if outPath == "-" {
					if _, err := cmd.OutOrStdout().Write(encoded); err != nil {
						return fmt.Errorf("write snapshot to stdout: %w", err)
					}
					return nil
				}
				if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
					return fmt.Errorf("create export output dir: %w", err)
				}
				if err := os.WriteFile(outPath, encoded, 0o644); err != nil {
					return fmt.Errorf("write export file: %w", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&outPath, "out", "-", "output file path ('-' for stdout)")
	return cmd
}

func newImportCommand(opts *globalOptions) *cobra.Command {
	var inPath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a JSON snapshot into an empty user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(inPath) == "" {
				return errors.New("--in is required")
			}
			content, err := os.ReadFile(inPath)
			if err != nil {
				return fmt.Errorf("read import file: %w", err)
			}
			var snap app.Snapshot
			if err := json.Unmarshal(content, &snap); err != nil {
				return fmt.Errorf("decode snapshot json: %w", err)
			}
			return withRuntime(cmd, opts, "import", func(env *runtimeEnv) error {
				if err := env.svc.ImportSnapshot(cmd.Context(), snap); err != nil {
					return fmt.Errorf("import snapshot: %w", err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%d ledger entries, %d candidates)\n", okBadge.Render("imported"), snap.UserID, len(snap.Ledger), len(snap.Candidates))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "", "input snapshot JSON file")
	return cmd
}
