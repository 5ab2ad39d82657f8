package autopilot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autopilot/internal/commitmsg"
	"github.com/fyrsmithlabs/autopilot/internal/config"
	"github.com/fyrsmithlabs/autopilot/internal/gitops"
	"github.com/fyrsmithlabs/autopilot/internal/logging"
	"github.com/fyrsmithlabs/autopilot/internal/statestore"
	"github.com/fyrsmithlabs/autopilot/internal/tasks"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
	"github.com/fyrsmithlabs/autopilot/pkg/secrets"
)

const instrumentationName = "github.com/fyrsmithlabs/autopilot/internal/autopilot"

// TaskSourceFactory returns the task source for a project and tag.
type TaskSourceFactory func(ctx context.Context, projectRoot, tag string) (tasks.Source, error)

// GitFactory returns the git collaborator for a project.
type GitFactory func(projectRoot string) (gitops.Client, error)

// SecretScanner checks staged files for credentials.
type SecretScanner interface {
	Scan(files []secrets.File) secrets.Report
}

// ScannerFactory returns the secret scanner for a project.
type ScannerFactory func(projectRoot string) (SecretScanner, error)

// Option configures a Service.
type Option func(*Service)

// WithTaskSource replaces the configured task source.
func WithTaskSource(f TaskSourceFactory) Option {
	return func(s *Service) { s.taskSource = f }
}

// WithGit replaces the go-git collaborator.
func WithGit(f GitFactory) Option {
	return func(s *Service) { s.git = f }
}

// WithScanner replaces the Gitleaks scanner.
func WithScanner(f ScannerFactory) Option {
	return func(s *Service) { s.scanner = f }
}

// WithFilesystem stores workflow state on fsys instead of the OS filesystem.
func WithFilesystem(fsys afero.Fs) Option {
	return func(s *Service) { s.fs = fsys }
}

// WithClock sets the time source for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRunIDs sets the generator of workflow run ids.
func WithRunIDs(f func() string) Option {
	return func(s *Service) { s.newRunID = f }
}

// Service drives workflows for any number of projects. It holds no per-project
// state between calls; the state file is the source of truth.
type Service struct {
	cfg     *config.Config
	logger  *logging.Logger
	commits *commitmsg.Generator

	taskSource TaskSourceFactory
	git        GitFactory
	scanner    ScannerFactory
	fs         afero.Fs
	now        func() time.Time
	newRunID   func() string

	tracer  trace.Tracer
	metrics *Metrics

	scanMu   sync.Mutex
	scanners map[string]SecretScanner
}

// New creates a Service from cfg.
func New(cfg *config.Config, logger *logging.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	commits, err := commitmsg.New(cfg.Commit.Template, cfg.Commit.Trailers)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:      cfg,
		logger:   logger.Named("autopilot"),
		commits:  commits,
		fs:       afero.NewOsFs(),
		now:      func() time.Time { return time.Now().UTC() },
		newRunID: func() string { return uuid.New().String() },
		tracer:   otel.Tracer(instrumentationName),
		metrics:  NewMetrics(),
		scanners: map[string]SecretScanner{},
	}
	s.taskSource = func(ctx context.Context, root, tag string) (tasks.Source, error) {
		return tasks.NewSource(ctx, cfg.Tasks, root, tag, s.logger.Underlying())
	}
	s.git = func(root string) (gitops.Client, error) {
		return gitops.NewGoGitClient(root, gitops.Options{
			AuthorName:  cfg.Git.AuthorName,
			AuthorEmail: cfg.Git.AuthorEmail,
			Ignore:      []string{cfg.State.Dir},
		}), nil
	}
	s.scanner = func(root string) (SecretScanner, error) {
		allow, err := secrets.LoadAllowlists(filepath.Join(root, cfg.Secrets.Allowlist))
		if err != nil {
			return nil, err
		}
		return secrets.NewDetector(allow)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// session is one request's view of a project's workflow.
type session struct {
	root  string
	store *statestore.Store
	orch  *workflow.Orchestrator
}

func (s *Service) store(root string) (*statestore.Store, error) {
	return statestore.New(s.fs, root, &statestore.Config{
		Dir:            s.cfg.State.Dir,
		File:           s.cfg.State.File,
		CompareAndSwap: s.cfg.State.CompareAndSwap,
		LockWait:       s.cfg.State.LockWait.Duration(),
	}, s.logger.Underlying())
}

// StatePath returns the state file location for the project at projectRoot.
func (s *Service) StatePath(projectRoot string) (string, error) {
	root, err := normalizeRoot(projectRoot)
	if err != nil {
		return "", err
	}
	store, err := s.store(root)
	if err != nil {
		return "", err
	}
	return store.Path(), nil
}

func (s *Service) orchestratorOptions() []workflow.Option {
	return []workflow.Option{workflow.WithClock(s.now)}
}

// open restores the project's workflow with auto-persist enabled.
func (s *Service) open(ctx context.Context, projectRoot string) (context.Context, *session, error) {
	root, err := normalizeRoot(projectRoot)
	if err != nil {
		return ctx, nil, err
	}
	store, err := s.store(root)
	if err != nil {
		return ctx, nil, err
	}
	state, err := store.Load(ctx)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			return ctx, nil, fmt.Errorf("%w in %s: %w", ErrNoActiveWorkflow, root, err)
		}
		return ctx, nil, err
	}
	orch, err := workflow.Restore(state, s.orchestratorOptions()...)
	if err != nil {
		return ctx, nil, err
	}
	orch.EnableAutoPersist(store.PersistFunc(ctx))

	ctx = logging.WithWorkflow(ctx, logging.Workflow{
		TaskID:      state.Context.TaskID,
		RunID:       state.Context.Metadata[workflow.MetaRunID],
		ProjectRoot: root,
	})
	return ctx, &session{root: root, store: store, orch: orch}, nil
}

func normalizeRoot(projectRoot string) (string, error) {
	if projectRoot == "" {
		return "", fmt.Errorf("%w: project root is required", ErrInvalidRequest)
	}
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		return "", fmt.Errorf("%w: project root %q: %v", ErrInvalidRequest, projectRoot, err)
	}
	return abs, nil
}

// apply runs one transition and records its outcome.
func (s *Service) apply(ctx context.Context, sess *session, ev workflow.Event) error {
	_, err := sess.orch.Transition(ev)
	s.metrics.recordTransition(ev.Type, err)
	if err != nil {
		s.logger.Warn(ctx, "transition failed",
			zap.String("event", string(ev.Type)),
			zap.String("phase", string(sess.orch.CurrentPhase())),
			zap.Error(err))
		return err
	}
	s.logger.Debug(ctx, "transition applied",
		zap.String("event", string(ev.Type)),
		zap.String("phase", string(sess.orch.CurrentPhase())))
	return nil
}

// span starts an operation span; finish records the error and duration.
func (s *Service) span(ctx context.Context, op, projectRoot string) (context.Context, func(*error)) {
	ctx, span := s.tracer.Start(ctx, "autopilot."+op, trace.WithAttributes(
		attribute.String("project_root", projectRoot),
	))
	start := s.now()
	return ctx, func(errp *error) {
		var err error
		if errp != nil {
			err = *errp
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.metrics.recordOperation(op, err, s.now().Sub(start))
		span.End()
	}
}

func (s *Service) scannerFor(root string) (SecretScanner, error) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	if sc, ok := s.scanners[root]; ok {
		return sc, nil
	}
	sc, err := s.scanner(root)
	if err != nil {
		return nil, fmt.Errorf("loading secret scanner: %w", err)
	}
	s.scanners[root] = sc
	return sc, nil
}
