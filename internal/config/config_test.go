package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v, want nil", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"max attempts zero", func(c *Config) { c.Workflow.MaxAttempts = 0 }, "max_attempts"},
		{"branch prefix with space", func(c *Config) { c.Workflow.BranchPrefix = "my branch/" }, "branch_prefix"},
		{"absolute state dir", func(c *Config) { c.State.Dir = "/var/lib" }, "state.dir"},
		{"state dir escapes", func(c *Config) { c.State.Dir = "../x" }, "state.dir"},
		{"unknown task source", func(c *Config) { c.Tasks.Source = "jira" }, "tasks.source"},
		{"github without repo", func(c *Config) { c.Tasks.Source = TaskSourceGitHub }, "github_owner"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad protocol", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Protocol = "udp"
		}, "telemetry.protocol"},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }, "sample_rate"},
		{"port", func(c *Config) { c.HTTP.Port = 70000 }, "http port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSecret_NeverPrinted(t *testing.T) {
	s := Secret("ghp_supersecret")

	if got := fmt.Sprintf("%v %s %#v", s, s, s); strings.Contains(got, "supersecret") {
		t.Errorf("formatted secret leaked: %q", got)
	}
	data, err := json.Marshal(struct{ Token Secret }{s})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "supersecret") {
		t.Errorf("json secret leaked: %s", data)
	}
	if s.Value() != "ghp_supersecret" || !s.IsSet() {
		t.Error("Value()/IsSet() lost the secret")
	}
}

func TestSecret_RedactedPlaceholderIsEmpty(t *testing.T) {
	var s Secret
	if err := json.Unmarshal([]byte(`"[REDACTED]"`), &s); err != nil {
		t.Fatal(err)
	}
	if s.IsSet() {
		t.Errorf("placeholder decoded to %q, want empty", s.Value())
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1m30s")); err != nil {
		t.Fatal(err)
	}
	if d.Duration().Seconds() != 90 {
		t.Errorf("Duration = %v, want 90s", d.Duration())
	}
	if err := d.UnmarshalText([]byte("15")); err != nil || d.Duration().Seconds() != 15 {
		t.Errorf("bare seconds: Duration = %v, err = %v, want 15s", d.Duration(), err)
	}
	for _, bad := range []string{"-1s", "-3", "soon"} {
		if err := d.UnmarshalText([]byte(bad)); err == nil {
			t.Errorf("UnmarshalText(%q) accepted", bad)
		}
	}
}
