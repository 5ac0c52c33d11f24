package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	toml "github.com/pelletier/go-toml/v2"
)

// TextGenProvider selects the coaching text backend.
type TextGenProvider string

const (
	TextGenNone     TextGenProvider = "none"
	TextGenTemplate TextGenProvider = "template"
	TextGenGenAI    TextGenProvider = "genai"
)

type Config struct {
	Database     DatabaseConfig     `toml:"database"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	XP           XPConfig           `toml:"xp"`
	TextGen      TextGenConfig      `toml:"textgen"`
	Telemetry    TelemetryConfig    `toml:"telemetry"`
	Server       ServerConfig       `toml:"server"`
	Logging      LoggingConfig      `toml:"logging"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type OrchestratorConfig struct {
	StorageTimeout    Duration `toml:"storage_timeout"`
	TextGenTimeout    Duration `toml:"textgen_timeout"`
	DefaultMaxMinutes int      `toml:"default_max_minutes"`
	DefaultTimezone   string   `toml:"default_timezone"`
}

type XPConfig struct {
	CheckIn           int `toml:"check_in"`
	TaskCompletedBase int `toml:"task_completed_base"`
	TaskCompletedCap  int `toml:"task_completed_cap"`
	StuckResolved     int `toml:"stuck_resolved"`
	DayEndPerStreak   int `toml:"day_end_per_streak"`
	DayEndCap         int `toml:"day_end_cap"`
}

// TextGenConfig selects the coaching text backend. Templates overrides the
// built-in template per purpose (motivation, coaching, no_task, stuck_coach, day_insight).
type TextGenConfig struct {
	Provider  TextGenProvider   `toml:"provider"`
	Model     string            `toml:"model"`
	APIKeyEnv string            `toml:"api_key_env"`
	Templates map[string]string `toml:"templates"`
}

type TelemetryConfig struct {
	Enabled    bool `toml:"enabled"`
	BufferSize int  `toml:"buffer_size"`
}

type ServerConfig struct {
	HTTP        string `toml:"http"`
	APIEndpoint string `toml:"api_endpoint"`
	MCPEndpoint string `toml:"mcp_endpoint"`
}

type LoggingConfig struct {
	Level   string        `toml:"level"`
	DevFile DevFileConfig `toml:"dev_file"`
}

type DevFileConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// Duration decodes TOML strings such as "2s" or "1500ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Path: dbPath,
		},
		Orchestrator: OrchestratorConfig{
			StorageTimeout:    Duration{2 * time.Second},
			TextGenTimeout:    Duration{3 * time.Second},
			DefaultMaxMinutes: 45,
			DefaultTimezone:   "UTC",
		},
		XP: XPConfig{
			CheckIn:           5,
			TaskCompletedBase: 20,
			TaskCompletedCap:  40,
			StuckResolved:     10,
			DayEndPerStreak:   5,
			DayEndCap:         50,
		},
		TextGen: TextGenConfig{
			Provider:  TextGenTemplate,
			APIKeyEnv: "GEMINI_API_KEY",
		},
		Telemetry: TelemetryConfig{
			Enabled:    true,
			BufferSize: 256,
		},
		Server: ServerConfig{
			HTTP:        "127.0.0.1:8080",
			APIEndpoint: "/api/v1",
			MCPEndpoint: "/mcp",
		},
		Logging: LoggingConfig{
			Level: "info",
			DevFile: DevFileConfig{
				Enabled: true,
				Dir:     ".nudge/log",
			},
		},
	}
}

func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database path is required")
	}

	if c.Orchestrator.StorageTimeout.Duration <= 0 {
		return fmt.Errorf("orchestrator.storage_timeout must be > 0")
	}
	if c.Orchestrator.TextGenTimeout.Duration <= 0 {
		return fmt.Errorf("orchestrator.textgen_timeout must be > 0")
	}
	if c.Orchestrator.DefaultMaxMinutes <= 0 {
		return fmt.Errorf("orchestrator.default_max_minutes must be > 0")
	}
	if tz := strings.TrimSpace(c.Orchestrator.DefaultTimezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("invalid orchestrator.default_timezone %q: %w", tz, err)
		}
	}

	for name, v := range map[string]int{
		"check_in":            c.XP.CheckIn,
		"task_completed_base": c.XP.TaskCompletedBase,
		"task_completed_cap":  c.XP.TaskCompletedCap,
		"stuck_resolved":      c.XP.StuckResolved,
		"day_end_per_streak":  c.XP.DayEndPerStreak,
		"day_end_cap":         c.XP.DayEndCap,
	} {
		if v < 0 {
			return fmt.Errorf("xp.%s must be >= 0", name)
		}
	}
	if c.XP.TaskCompletedCap < c.XP.TaskCompletedBase {
		return fmt.Errorf("xp.task_completed_cap must be >= xp.task_completed_base")
	}

	switch c.TextGen.Provider {
	case TextGenNone, TextGenTemplate:
	case TextGenGenAI:
		if strings.TrimSpace(c.TextGen.APIKeyEnv) == "" {
			return errors.New("textgen.api_key_env is required for the genai provider")
		}
	default:
		return fmt.Errorf("invalid textgen.provider: %q", c.TextGen.Provider)
	}

	if c.Telemetry.BufferSize < 0 {
		return fmt.Errorf("telemetry.buffer_size must be >= 0")
	}

	api := strings.Trim(strings.TrimSpace(c.Server.APIEndpoint), "/")
	mcp := strings.Trim(strings.TrimSpace(c.Server.MCPEndpoint), "/")
	if api != "" && api == mcp {
		return fmt.Errorf("server.api_endpoint and server.mcp_endpoint must differ")
	}

	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level %q: %w", c.Logging.Level, err)
	}

	return nil
}

// Save writes cfg as TOML to path, creating the parent directory.
func Save(path string, cfg Config) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("config path is required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	encoded, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode toml: %w", err)
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
