/*
Package config loads process configuration for the procurement server.

SOURCES (later wins):
  1. built-in defaults (Defaults)
  2. a YAML/TOML/JSON config file, when one is given
  3. PROCURE_* environment variables, with "." replaced by "_"
     e.g. PROCURE_SERVER_PORT=9090, PROCURE_WORKFLOW_TX_TIMEOUT=5s

The approval matrix is not part of this file. approval.matrix_file points
at a separate matrix document parsed by package factory; an empty value
means factory.DefaultMatrix().

EXAMPLE (config/procure.example.yaml):
  server:
    port: 8080
    cors_origins: ["*"]
  database:
    driver: sqlite
    path: ./data/procure.db
  workflow:
    tx_timeout: 10s
    finalize_timeout: 30s
    award_response_window: 72h
    min_quotes: 1
    min_scorers: 1
  approval:
    matrix_file: ./config/approval-matrix.yaml
  directory:
    users_file: ./config/users.yaml
  log:
    level: info
    format: text
  scheduler:
    enabled: true
    interval: 1m
*/
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/warp/procurement-engine/procurement"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Approval  ApprovalConfig  `mapstructure:"approval"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Log       LogConfig       `mapstructure:"log"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

type ServerConfig struct {
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// DatabaseConfig selects the store. Driver is "sqlite" or "memory".
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type WorkflowConfig struct {
	TxTimeout           time.Duration `mapstructure:"tx_timeout"`
	FinalizeTimeout     time.Duration `mapstructure:"finalize_timeout"`
	AwardResponseWindow time.Duration `mapstructure:"award_response_window"`
	MinQuotes           int           `mapstructure:"min_quotes"`
	MinScorers          int           `mapstructure:"min_scorers"`
}

type ApprovalConfig struct {
	MatrixFile string `mapstructure:"matrix_file"`
}

// DirectoryConfig names the user directory seeded into the store at
// startup. Approver routing needs exactly one holder per approver role.
type DirectoryConfig struct {
	UsersFile string `mapstructure:"users_file"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// Defaults registers every key so environment overrides apply even
// without a config file.
func Defaults(v *viper.Viper) {
	wf := procurement.DefaultConfig()
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/procure.db")
	v.SetDefault("workflow.tx_timeout", wf.TxTimeout)
	v.SetDefault("workflow.finalize_timeout", wf.FinalizeTimeout)
	v.SetDefault("workflow.award_response_window", wf.AwardResponseWindow)
	v.SetDefault("workflow.min_quotes", wf.MinQuotes)
	v.SetDefault("workflow.min_scorers", wf.MinScorers)
	v.SetDefault("approval.matrix_file", "")
	v.SetDefault("directory.users_file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", time.Minute)
}

// Load reads defaults, the optional file at path and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	Defaults(v)
	v.SetEnvPrefix("PROCURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot start with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Database.Driver {
	case "memory":
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown database.driver %q (want sqlite or memory)", c.Database.Driver)
	}
	if c.Workflow.TxTimeout < 0 || c.Workflow.FinalizeTimeout < 0 {
		return fmt.Errorf("workflow timeouts must not be negative")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive when the scheduler is enabled")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// Service returns the workflow settings for procurement.NewService.
func (c Config) Service() procurement.Config {
	return procurement.Config{
		TxTimeout:           c.Workflow.TxTimeout,
		FinalizeTimeout:     c.Workflow.FinalizeTimeout,
		MinQuotes:           c.Workflow.MinQuotes,
		MinScorers:          c.Workflow.MinScorers,
		AwardResponseWindow: c.Workflow.AwardResponseWindow,
	}
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
