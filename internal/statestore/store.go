// Package statestore persists workflow snapshots in a project-scoped state file.
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autopilot/internal/workflow"
)

const instrumentationName = "github.com/fyrsmithlabs/autopilot/internal/statestore"

const (
	// DefaultDir is the hidden project directory holding autopilot state.
	DefaultDir = ".autopilot"

	// DefaultFile is the state file name inside DefaultDir.
	DefaultFile = "workflow-state.json"
)

// Config configures a Store.
type Config struct {
	// Dir is relative to the project root (default: .autopilot)
	Dir string

	// File is the state file name (default: workflow-state.json)
	File string

	// CompareAndSwap rejects saves based on an outdated load (default: true)
	CompareAndSwap bool

	// LockWait bounds how long a save or delete waits for the lock file (default: 2s)
	LockWait time.Duration

	// StaleLockAge is the age after which a lock file left by a dead process is
	// removed (default: 30s)
	StaleLockAge time.Duration
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() *Config {
	return &Config{
		Dir:            DefaultDir,
		File:           DefaultFile,
		CompareAndSwap: true,
		LockWait:       2 * time.Second,
		StaleLockAge:   30 * time.Second,
	}
}

// Store loads and saves the workflow snapshot of one project.
//
// Every Save is written to a temporary file in the same directory and renamed over
// the state file, so a crash never leaves a partially written snapshot behind.
// The store remembers the revision it last loaded or saved; with CompareAndSwap
// enabled a Save fails with workflow.ErrConcurrentModification when the file on disk
// carries a different revision. Saves and deletes hold an exclusive lock file next
// to the state file from the revision check to the rename, so two processes cannot
// both pass the check for the same revision.
type Store struct {
	fs     afero.Fs
	path   string
	config *Config
	logger *zap.Logger
	now    func() time.Time

	tracer     trace.Tracer
	opsCounter metric.Int64Counter

	mu       sync.Mutex
	revision int64
}

// New creates a store for the project rooted at projectRoot.
func New(fsys afero.Fs, projectRoot string, cfg *Config, logger *zap.Logger) (*Store, error) {
	if fsys == nil {
		return nil, errors.New("filesystem is required")
	}
	if projectRoot == "" {
		return nil, errors.New("project root is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Dir == "" {
		cfg.Dir = DefaultDir
	}
	if cfg.File == "" {
		cfg.File = DefaultFile
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 2 * time.Second
	}
	if cfg.StaleLockAge <= 0 {
		cfg.StaleLockAge = 30 * time.Second
	}
	if filepath.IsAbs(cfg.Dir) || filepath.Base(cfg.File) != cfg.File {
		return nil, fmt.Errorf("state location must stay inside the project: dir=%q file=%q", cfg.Dir, cfg.File)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	path := filepath.Join(projectRoot, cfg.Dir, cfg.File)
	s := &Store{
		fs:     fsys,
		path:   path,
		config: cfg,
		logger: logger.With(zap.String("state_file", path)),
		now:    func() time.Time { return time.Now().UTC() },
		tracer: otel.Tracer(instrumentationName),
	}

	var err error
	s.opsCounter, err = otel.Meter(instrumentationName).Int64Counter(
		"autopilot.statestore.operations_total",
		metric.WithDescription("Total number of state store operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		s.logger.Warn("failed to create operations counter", zap.Error(err))
	}
	return s, nil
}

// NewOS creates a store backed by the operating system filesystem.
func NewOS(projectRoot string, cfg *Config, logger *zap.Logger) (*Store, error) {
	return New(afero.NewOsFs(), projectRoot, cfg, logger)
}

// Path returns the absolute location of the state file.
func (s *Store) Path() string {
	return s.path
}

// Revision returns the revision of the last snapshot loaded or saved by this store.
func (s *Store) Revision() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

// Exists reports whether a state file is present.
func (s *Store) Exists(ctx context.Context) (bool, error) {
	_, span := s.tracer.Start(ctx, "statestore.Exists")
	defer span.End()

	ok, err := afero.Exists(s.fs, s.path)
	if err != nil {
		err = fmt.Errorf("%w: checking %s: %w", workflow.ErrPersistenceFailure, s.path, err)
	}
	s.record(ctx, span, "exists", err)
	return ok, err
}

// Load reads and validates the snapshot. A missing file returns workflow.ErrNotFound;
// unreadable content returns workflow.ErrCorruptState and is left on disk untouched.
func (s *Store) Load(ctx context.Context) (workflow.WorkflowState, error) {
	ctx, span := s.tracer.Start(ctx, "statestore.Load")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("%s: %w", s.path, workflow.ErrNotFound)
		} else {
			err = fmt.Errorf("%w: reading %s: %w", workflow.ErrPersistenceFailure, s.path, err)
		}
		s.record(ctx, span, "load", err)
		return workflow.WorkflowState{}, err
	}

	state, env, err := workflow.DecodeState(data)
	if err != nil {
		s.logger.Error("state file is corrupt", zap.Error(err))
		err = fmt.Errorf("%s: %w", s.path, err)
		s.record(ctx, span, "load", err)
		return workflow.WorkflowState{}, err
	}

	s.revision = env.Revision
	span.SetAttributes(
		attribute.Int64("revision", env.Revision),
		attribute.String("phase", string(state.Phase)),
	)
	s.logger.Debug("loaded workflow state",
		zap.Int64("revision", env.Revision),
		zap.String("phase", string(state.Phase)),
		zap.String("task_id", state.Context.TaskID))
	s.record(ctx, span, "load", nil)
	return state, nil
}

// Save atomically replaces the state file with state.
func (s *Store) Save(ctx context.Context, state workflow.WorkflowState) error {
	ctx, span := s.tracer.Start(ctx, "statestore.Save")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.withLock(ctx, func() error { return s.save(state) })
	s.record(ctx, span, "save", err)
	if err != nil {
		s.logger.Warn("failed to save workflow state", zap.Error(err))
		return err
	}
	span.SetAttributes(attribute.Int64("revision", s.revision))
	s.logger.Debug("saved workflow state",
		zap.Int64("revision", s.revision),
		zap.String("phase", string(state.Phase)))
	return nil
}

func (s *Store) save(state workflow.WorkflowState) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid snapshot: %w", err)
	}
	onDisk, err := s.diskRevision()
	if err != nil {
		return err
	}
	if s.config.CompareAndSwap && onDisk != s.revision {
		return fmt.Errorf("%w: %s is at revision %d, expected %d",
			workflow.ErrConcurrentModification, s.path, onDisk, s.revision)
	}

	next := onDisk + 1
	data, err := workflow.EncodeState(state, workflow.Envelope{Revision: next, SavedAt: s.now()})
	if err != nil {
		return fmt.Errorf("%w: %w", workflow.ErrPersistenceFailure, err)
	}
	if err := s.writeAtomic(data); err != nil {
		return fmt.Errorf("%w: %w", workflow.ErrPersistenceFailure, err)
	}
	s.revision = next
	return nil
}

// diskRevision returns the revision stored on disk, 0 when there is no file.
func (s *Store) diskRevision() (int64, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: reading %s: %w", workflow.ErrPersistenceFailure, s.path, err)
	}
	var head struct {
		Revision int64 `json:"revision"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", workflow.ErrCorruptState, s.path, err)
	}
	return head.Revision, nil
}

func (s *Store) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(s.fs, dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = s.fs.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := s.fs.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("failed to set permissions on temp file: %w", err)
	}
	if err := s.fs.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Delete removes the state file. Deleting a missing file is not an error.
func (s *Store) Delete(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "statestore.Delete")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if exists, _ := afero.Exists(s.fs, s.path); !exists {
		s.revision = 0
		s.record(ctx, span, "delete", nil)
		return nil
	}
	err := s.withLock(ctx, func() error {
		if err := s.fs.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: removing %s: %w", workflow.ErrPersistenceFailure, s.path, err)
		}
		return nil
	})
	if err != nil {
		s.record(ctx, span, "delete", err)
		return err
	}
	s.revision = 0
	s.logger.Debug("deleted workflow state")
	s.record(ctx, span, "delete", nil)
	return nil
}

func (s *Store) lockPath() string {
	return s.path + ".lock"
}

// withLock runs fn while holding the lock file. A lock older than StaleLockAge
// is treated as abandoned and removed. Waiting longer than LockWait fails with
// workflow.ErrConcurrentModification.
func (s *Store) withLock(ctx context.Context, fn func() error) error {
	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating state directory %s: %w", workflow.ErrPersistenceFailure, dir, err)
	}

	lock := s.lockPath()
	deadline := time.Now().Add(s.config.LockWait)
	delay := 5 * time.Millisecond
	for {
		f, err := s.fs.OpenFile(lock, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
			_ = f.Close()
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: creating lock %s: %w", workflow.ErrPersistenceFailure, lock, err)
		}
		if info, statErr := s.fs.Stat(lock); statErr == nil && s.now().Sub(info.ModTime()) > s.config.StaleLockAge {
			s.logger.Warn("removing stale state lock", zap.Time("locked_at", info.ModTime()))
			_ = s.fs.Remove(lock)
			continue
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s is locked by another process", workflow.ErrConcurrentModification, s.path)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: waiting for lock: %w", workflow.ErrPersistenceFailure, ctx.Err())
		case <-time.After(delay):
		}
		if delay < 100*time.Millisecond {
			delay *= 2
		}
	}
	defer func() { _ = s.fs.Remove(lock) }()
	return fn()
}

// PersistFunc adapts the store into an orchestrator persistence hook.
func (s *Store) PersistFunc(ctx context.Context) workflow.PersistFunc {
	return func(state workflow.WorkflowState) error {
		return s.Save(ctx, state)
	}
}

func (s *Store) record(ctx context.Context, span trace.Span, op string, err error) {
	result := "success"
	if err != nil {
		result = resultFor(err)
		if result != "not_found" {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	if s.opsCounter != nil {
		s.opsCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("result", result),
		))
	}
}

func resultFor(err error) string {
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		return "not_found"
	case errors.Is(err, workflow.ErrCorruptState):
		return "corrupt"
	case errors.Is(err, workflow.ErrConcurrentModification):
		return "conflict"
	default:
		return "error"
	}
}
