package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autopilot/internal/autopilot"
	"github.com/fyrsmithlabs/autopilot/internal/config"
	"github.com/fyrsmithlabs/autopilot/internal/logging"
	"github.com/fyrsmithlabs/autopilot/internal/telemetry"
)

// app carries the flags and the services shared by every command.
type app struct {
	projectRoot string
	configPath  string
	jsonOut     bool

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	cfg    *config.Config
	logger *logging.Logger
	tel    *telemetry.Telemetry
	svc    autopilot.Workflows

	// statePath locates the state file watched by `autopilot watch`.
	statePath func(root string) (string, error)
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{stdin: stdin, stdout: stdout, stderr: stderr}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "autopilot",
		Short: "Drive a RED/GREEN/COMMIT workflow for a task",
		Long: `autopilot walks a task through a test-driven workflow: it creates a feature
branch, then takes every subtask through RED (a failing test), GREEN (passing
tests) and COMMIT, and finally checks that the working tree is clean.

The workflow state is stored in the project, so each command can run in a
separate process.`,
		Version:           fmt.Sprintf("%s (commit %s, built %s)", version, gitCommit, buildDate),
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return a.setup(cmd.Context()) },
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.projectRoot, "project-root", "", "project directory (default: current directory)")
	flags.StringVar(&a.configPath, "config", "", "config file (default: ~/.config/autopilot/config.yaml)")
	flags.BoolVar(&a.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(
		newStartCmd(a),
		newResumeCmd(a),
		newNextCmd(a),
		newCompleteCmd(a),
		newCommitCmd(a),
		newFinalizeCmd(a),
		newStatusCmd(a),
		newAbortCmd(a),
		newRetryCmd(a),
		newWatchCmd(a),
		newMCPCmd(a),
		newServeCmd(a),
	)
	return root
}

// setup loads configuration and builds the service. Services injected before
// Execute are kept.
func (a *app) setup(ctx context.Context) error {
	if a.projectRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolving working directory: %w", err)
		}
		a.projectRoot = wd
	}
	abs, err := filepath.Abs(a.projectRoot)
	if err != nil {
		return fmt.Errorf("resolving project root: %w", err)
	}
	a.projectRoot = abs

	if a.svc != nil {
		return nil
	}

	if a.cfg == nil {
		cfg, err := config.LoadWithFile(a.configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		a.cfg = cfg
	}

	a.tel, err = telemetry.New(ctx, telemetry.FromAppConfig(a.cfg.Telemetry, version))
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}

	logCfg, err := logging.FromAppConfig(a.cfg.Logging)
	if err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}
	a.logger, err = logging.NewLogger(logCfg, a.tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	if degraded, cause := a.tel.Degraded(); degraded {
		a.logger.Warn(ctx, "telemetry degraded, continuing without export", zap.Error(cause))
	}

	svc, err := autopilot.New(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("creating workflow service: %w", err)
	}
	a.svc = svc
	a.statePath = svc.StatePath
	return nil
}

// close flushes telemetry and logs. It is safe to call when setup never ran.
func (a *app) close() {
	if a.tel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.tel.Shutdown(ctx)
	}
	if a.logger != nil {
		_ = a.logger.Close()
	}
}
