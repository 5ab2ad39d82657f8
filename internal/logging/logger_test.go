package logging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/autopilot/internal/config"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad format", func(c *Config) { c.Format = "xml" }, "format"},
		{"no outputs", func(c *Config) { c.Output = OutputConfig{} }, "at least one output"},
		{"file without size", func(c *Config) { c.Output.File = FileConfig{Path: "/tmp/a.log"} }, "max size"},
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"("} }, "invalid redaction pattern"},
		{"zero tick", func(c *Config) { c.Sampling.Tick = 0 }, "sampling tick"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	cfg, err := FromAppConfig(config.LoggingConfig{
		Level: "trace", Format: "json", File: "/var/log/autopilot.log",
		MaxSizeMB: 5, MaxBackups: 2, MaxAgeDays: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.True(t, cfg.Output.Stderr)
	assert.Equal(t, 5, cfg.Output.File.MaxSizeMB)

	_, err = FromAppConfig(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	lvl, err = LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)
}

func TestContextFields(t *testing.T) {
	ctx := WithWorkflow(context.Background(), Workflow{TaskID: "7", RunID: "run-1"})
	ctx = WithRequestID(ctx, "req-9")

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx = trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))

	log := NewTestLogger()
	log.Info(ctx, "subtask committed", zap.String("subtask", "7.1"))

	log.AssertLogged(t, zapcore.InfoLevel, "committed")
	log.AssertField(t, "subtask committed", "workflow.task", "7")
	log.AssertField(t, "subtask committed", "workflow.run", "run-1")
	log.AssertField(t, "subtask committed", "request.id", "req-9")
	log.AssertField(t, "subtask committed", "trace_id", traceID.String())
	log.AssertNotLogged(t, zapcore.ErrorLevel, "committed")

	_, ok := WorkflowFromContext(context.Background())
	assert.False(t, ok)
	assert.Empty(t, ContextFields(WithRequestID(context.Background(), "")))
}

func TestTraceLevelFiltered(t *testing.T) {
	log := NewTestLogger()
	log.Trace(context.Background(), "wire detail")
	assert.Len(t, log.All(), 1)

	log.Reset()
	quiet := &Logger{zap: log.Underlying().WithOptions(zap.IncreaseLevel(zapcore.InfoLevel))}
	quiet.Debug(context.Background(), "hidden")
	assert.Empty(t, log.All())
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	log := NewTestLogger()
	ctx := WithLogger(context.Background(), log.Logger)
	FromContext(ctx).Warn(ctx, "found")
	log.AssertLogged(t, zapcore.WarnLevel, "found")
}

func TestNewLogger_FileOutputIsRedacted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autopilot.log")
	cfg := NewDefaultConfig()
	cfg.Output = OutputConfig{File: FileConfig{Path: path, MaxSizeMB: 1}}
	cfg.Sampling.Enabled = false

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)

	ghToken := "ghp_" + strings.Repeat("a", 36)
	logger.Info(context.Background(), "calling github with "+ghToken,
		zap.String("github_token", "plain"),
		zap.String("note", "Authorization: Bearer abc.def"),
		Secret("configured", config.Secret("hunter2")),
	)
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "calling github")
	assert.NotContains(t, out, ghToken)
	assert.NotContains(t, out, "plain")
	assert.NotContains(t, out, "abc.def")
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "[REDACTED:7]")
	assert.Contains(t, out, `"service":"autopilot"`)
}

func TestSamplingKeepsErrors(t *testing.T) {
	base, observed := observer.New(zapcore.DebugLevel)
	sampled := zap.New(newSampledCore(base, SamplingConfig{
		Enabled: true, Tick: time.Minute, Initial: 1, Thereafter: 1000,
	}))

	for i := 0; i < 5; i++ {
		sampled.Info("repeated")
		sampled.Error("failure")
	}
	assert.Equal(t, 1, observed.FilterMessage("repeated").Len())
	assert.Equal(t, 5, observed.FilterMessage("failure").Len())
}
