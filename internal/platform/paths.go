package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// HomeEnv roots every nudge path under one directory when set.
const HomeEnv = "NUDGE_HOME"

// Paths holds the per-user locations for config, the sqlite database and logs.
type Paths struct {
	ConfigPath string
	DataDir    string
	DBPath     string
	LogDir     string
}

// Options defines optional settings for configuration.
type Options struct {
	AppName string
	DevMode bool
}

// baseEnv lists, per OS, the variables that override the config and data bases.
var baseEnv = map[string][2]string{
	"linux":   {"XDG_CONFIG_HOME", "XDG_DATA_HOME"},
	"windows": {"APPDATA", "LOCALAPPDATA"},
}

// DefaultPaths returns the production paths for nudge.
func DefaultPaths() (Paths, error) {
	return DefaultPathsWithOptions(Options{AppName: "nudge"})
}

// DefaultPathsWithOptions resolves paths for the running OS and environment.
func DefaultPathsWithOptions(opts Options) (Paths, error) {
	appName := strings.TrimSpace(opts.AppName)
	if appName == "" {
		appName = "nudge"
	}
	if opts.DevMode {
		appName += "-dev"
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("user config dir: %w", err)
	}
	dataDir, err := userDataDir(runtime.GOOS, configDir)
	if err != nil {
		return Paths{}, err
	}

	env := map[string]string{HomeEnv: os.Getenv(HomeEnv)}
	for _, keys := range baseEnv {
		for _, key := range keys {
			env[key] = os.Getenv(key)
		}
	}
	return PathsFor(runtime.GOOS, env, configDir, dataDir, appName)
}

// userDataDir picks the data base: ~/.local/share on linux, LOCALAPPDATA on windows, else the config dir.
func userDataDir(goos, configDir string) (string, error) {
	switch goos {
	case "linux":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("user home dir: %w", err)
		}
		return filepath.Join(home, ".local", "share"), nil
	case "windows":
		if v := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); v != "" {
			return v, nil
		}
	}
	return configDir, nil
}

// PathsFor resolves paths for goos from explicit base dirs and environment values.
// NUDGE_HOME wins over every OS convention; macOS and unknown platforms keep the given bases.
func PathsFor(goos string, env map[string]string, userConfigDir, userDataDir, appName string) (Paths, error) {
	appName = strings.TrimSpace(appName)
	if appName == "" {
		return Paths{}, fmt.Errorf("empty app name")
	}
	if home := strings.TrimSpace(env[HomeEnv]); home != "" {
		return layout(home, home, appName), nil
	}
	if userConfigDir == "" || userDataDir == "" {
		return Paths{}, fmt.Errorf("empty base dirs")
	}

	configBase, dataBase := userConfigDir, userDataDir
	if keys, ok := baseEnv[goos]; ok {
		if v := env[keys[0]]; v != "" {
			configBase = v
		}
		if v := env[keys[1]]; v != "" {
			dataBase = v
		}
	}
	return layout(filepath.Join(configBase, appName), filepath.Join(dataBase, appName), appName), nil
}

func layout(configDir, dataDir, appName string) Paths {
	return Paths{
		ConfigPath: filepath.Join(configDir, "config.toml"),
		DataDir:    dataDir,
		DBPath:     filepath.Join(dataDir, appName+".db"),
		LogDir:     filepath.Join(dataDir, "log"),
	}
}
