// Package config provides configuration loading for autopilot.
//
// Configuration is read from ~/.config/autopilot/config.yaml and overridden by
// AUTOPILOT_* environment variables. Every field has a default, so running without a
// config file is the normal case.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Task source kinds.
const (
	TaskSourceFile   = "file"
	TaskSourceGitHub = "github"
)

// Config holds the complete autopilot configuration.
type Config struct {
	Workflow  WorkflowConfig  `koanf:"workflow"`
	State     StateConfig     `koanf:"state"`
	Tasks     TasksConfig     `koanf:"tasks"`
	Git       GitConfig       `koanf:"git"`
	Commit    CommitConfig    `koanf:"commit"`
	Secrets   SecretsConfig   `koanf:"secrets"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	HTTP      HTTPConfig      `koanf:"http"`
}

// WorkflowConfig controls the TDD workflow itself.
type WorkflowConfig struct {
	MaxAttempts      int    `koanf:"max_attempts"`
	BranchPrefix     string `koanf:"branch_prefix"`
	RequireCleanTree bool   `koanf:"require_clean_tree"`
}

// StateConfig locates the per-project state file.
type StateConfig struct {
	Dir            string `koanf:"dir"`
	File           string `koanf:"file"`
	CompareAndSwap bool   `koanf:"compare_and_swap"`

	// LockWait bounds the wait for another process's save to finish.
	LockWait Duration `koanf:"lock_wait"`
}

// TasksConfig selects where tasks are read from.
type TasksConfig struct {
	Source        string `koanf:"source"`
	File          string `koanf:"file"`
	Tag           string `koanf:"tag"`
	GitHubOwner   string `koanf:"github_owner"`
	GitHubRepo    string `koanf:"github_repo"`
	GitHubToken   Secret `koanf:"github_token"`
	GitHubBaseURL string `koanf:"github_base_url"`
}

// GitConfig sets the commit identity. Empty values fall back to the repository's
// git configuration.
type GitConfig struct {
	AuthorName  string `koanf:"author_name"`
	AuthorEmail string `koanf:"author_email"`
}

// CommitConfig controls commit message rendering.
type CommitConfig struct {
	Template string `koanf:"template"` // Go template; empty uses the built-in one
	Trailers bool   `koanf:"trailers"`
}

// SecretsConfig controls the staged-content secret scan.
type SecretsConfig struct {
	Guard     bool   `koanf:"guard"`
	Allowlist string `koanf:"allowlist"` // relative to the project root
}

// LoggingConfig holds the log settings exposed to users.
type LoggingConfig struct {
	Level      string `koanf:"level"`
	Format     string `koanf:"format"`
	File       string `koanf:"file"` // empty logs to stderr only
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"` // grpc or http
	ServiceName string  `koanf:"service_name"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
	ExportLogs  bool    `koanf:"export_logs"`
}

// HTTPConfig configures `autopilot serve`.
type HTTPConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	RateLimit       float64  `koanf:"rate_limit"` // requests per second per client; 0 disables
	RateBurst       int      `koanf:"rate_burst"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Workflow: WorkflowConfig{
			MaxAttempts:      3,
			BranchPrefix:     "autopilot/",
			RequireCleanTree: true,
		},
		State: StateConfig{
			Dir:            ".autopilot",
			File:           "workflow-state.json",
			CompareAndSwap: true,
			LockWait:       Duration(2 * time.Second),
		},
		Tasks: TasksConfig{
			Source: TaskSourceFile,
			File:   ".taskmaster/tasks/tasks.json",
			Tag:    "master",
		},
		Commit: CommitConfig{
			Trailers: true,
		},
		Secrets: SecretsConfig{
			Guard:     true,
			Allowlist: ".gitleaks.toml",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			ServiceName: "autopilot",
			Insecure:    true,
			SampleRate:  1.0,
			ExportLogs:  true,
		},
		HTTP: HTTPConfig{
			Host:            "127.0.0.1",
			Port:            9191,
			ShutdownTimeout: Duration(10 * time.Second),
			RateLimit:       20,
			RateBurst:       40,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Workflow.MaxAttempts < 1 || c.Workflow.MaxAttempts > 100 {
		return fmt.Errorf("workflow.max_attempts must be 1-100, got %d", c.Workflow.MaxAttempts)
	}
	if strings.ContainsAny(c.Workflow.BranchPrefix, " ~^:?*[\\") {
		return fmt.Errorf("workflow.branch_prefix contains characters git does not allow: %q", c.Workflow.BranchPrefix)
	}

	if c.State.Dir == "" || c.State.File == "" {
		return errors.New("state.dir and state.file are required")
	}
	if strings.HasPrefix(c.State.Dir, "/") || strings.Contains(c.State.Dir, "..") {
		return fmt.Errorf("state.dir must be relative to the project root: %q", c.State.Dir)
	}

	switch c.Tasks.Source {
	case TaskSourceFile:
		if c.Tasks.File == "" {
			return errors.New("tasks.file is required for the file task source")
		}
	case TaskSourceGitHub:
		if c.Tasks.GitHubOwner == "" || c.Tasks.GitHubRepo == "" {
			return errors.New("tasks.github_owner and tasks.github_repo are required for the github task source")
		}
	default:
		return fmt.Errorf("tasks.source must be %q or %q, got %q", TaskSourceFile, TaskSourceGitHub, c.Tasks.Source)
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be trace, debug, info, warn or error, got %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	if c.Logging.File != "" && c.Logging.MaxSizeMB < 1 {
		return fmt.Errorf("logging.max_size_mb must be positive, got %d", c.Logging.MaxSizeMB)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return errors.New("telemetry.endpoint is required when telemetry is enabled")
		}
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http" {
			return fmt.Errorf("telemetry.protocol must be grpc or http, got %q", c.Telemetry.Protocol)
		}
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate)
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port: %d (must be 1-65535)", c.HTTP.Port)
	}
	if c.HTTP.ShutdownTimeout.Duration() <= 0 {
		return errors.New("http.shutdown_timeout must be positive")
	}
	if c.HTTP.RateLimit < 0 || (c.HTTP.RateLimit > 0 && c.HTTP.RateBurst < 1) {
		return fmt.Errorf("http.rate_limit must be >= 0 with a positive rate_burst, got %v/%d", c.HTTP.RateLimit, c.HTTP.RateBurst)
	}

	return nil
}
