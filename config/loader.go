package config

import (
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// ProjectConfigFile is the name of the project-level config file.
	ProjectConfigFile = "scheduler.yaml"
	// UserConfigDir is the directory for user-level config.
	UserConfigDir = ".config/task-graph-scheduler"
	// UserConfigFile is the name of the user-level config file.
	UserConfigFile = "config.yaml"
)

// Loader handles configuration loading with layered precedence.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a new configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with layered precedence:
//  1. Default config
//  2. User config (~/.config/task-graph-scheduler/config.yaml)
//  3. Project config (scheduler.yaml in the current directory)
//  4. Environment variable overrides (NATS_URL, SCHEDULER_ID)
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	userConfigPath := l.userConfigPath()
	if userCfg, err := LoadFromFile(userConfigPath); err == nil {
		l.logger.Debug("loaded user config", slog.String("path", userConfigPath))
		cfg.Merge(userCfg)
	} else if !os.IsNotExist(err) {
		l.logger.Warn("failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
	}

	if _, err := os.Stat(ProjectConfigFile); err == nil {
		if projectCfg, err := LoadFromFile(ProjectConfigFile); err == nil {
			l.logger.Debug("loaded project config", slog.String("path", ProjectConfigFile))
			cfg.Merge(projectCfg)
		} else {
			l.logger.Warn("failed to load project config", slog.String("path", ProjectConfigFile), slog.String("error", err.Error()))
		}
	}

	l.applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides mirrors the environment-variable precedence
// cmd/scheduler applies when connecting to NATS: an explicit env var
// always wins over whatever the config files settled on.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	if url := os.Getenv("NATS_URL"); url != "" {
		cfg.NATS.URL = url
		cfg.NATS.Embedded = false
	}
	if id := os.Getenv("SCHEDULER_ID"); id != "" {
		cfg.Scheduler.ID = id
	}
}

// EnsureUserConfig creates the user config file with defaults if it
// doesn't exist.
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()

	if _, err := os.Stat(userConfigPath); err == nil {
		return nil
	}

	cfg := DefaultConfig()
	if err := cfg.SaveToFile(userConfigPath); err != nil {
		return err
	}

	l.logger.Info("created default user config", slog.String("path", userConfigPath))
	return nil
}

func (l *Loader) userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}
