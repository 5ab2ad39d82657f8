package autopilot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autopilot/internal/config"
	"github.com/fyrsmithlabs/autopilot/internal/gitops"
	"github.com/fyrsmithlabs/autopilot/internal/logging"
	"github.com/fyrsmithlabs/autopilot/internal/statestore"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
)

// StartRequest starts a workflow for one task.
type StartRequest struct {
	ProjectRoot string `json:"projectRoot"`
	TaskID      string `json:"taskId"`

	// Force replaces an unfinished or corrupt workflow.
	Force bool `json:"force,omitempty"`

	// MaxAttempts overrides workflow.max_attempts when positive.
	MaxAttempts int `json:"maxAttempts,omitempty"`

	// Tag overrides tasks.tag.
	Tag string `json:"tag,omitempty"`
}

// Start fetches a task, records a new workflow and runs it up to the first RED step:
// preflight checks pass and the feature branch is checked out.
func (s *Service) Start(ctx context.Context, req StartRequest) (_ *Status, err error) {
	ctx, finish := s.span(ctx, "start", req.ProjectRoot)
	defer finish(&err)

	taskID := strings.TrimSpace(req.TaskID)
	if taskID == "" {
		return nil, fmt.Errorf("%w: task id is required", ErrInvalidRequest)
	}
	if req.MaxAttempts < 0 {
		return nil, fmt.Errorf("%w: max attempts must be positive, got %d", ErrInvalidRequest, req.MaxAttempts)
	}
	root, err := normalizeRoot(req.ProjectRoot)
	if err != nil {
		return nil, err
	}
	store, err := s.store(root)
	if err != nil {
		return nil, err
	}
	if err := s.clearPrevious(ctx, store, req.Force); err != nil {
		return nil, err
	}

	tag := req.Tag
	if tag == "" {
		tag = s.cfg.Tasks.Tag
	}
	src, err := s.taskSource(ctx, root, tag)
	if err != nil {
		return nil, fmt.Errorf("opening task source: %w", err)
	}
	task, err := src.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	subtasks, err := task.WorkflowSubtasks()
	if err != nil {
		return nil, err
	}

	maxAttempts := s.cfg.Workflow.MaxAttempts
	if req.MaxAttempts > 0 {
		maxAttempts = req.MaxAttempts
	}
	runID := s.newRunID()
	opts := []workflow.ContextOption{
		workflow.WithMaxAttempts(maxAttempts),
		workflow.WithStartedAt(s.now()),
		workflow.WithMetadata(workflow.MetaRunID, runID),
		workflow.WithMetadata(workflow.MetaTag, tag),
		workflow.WithMetadata(workflow.MetaProjectRoot, root),
		workflow.WithMetadata(workflow.MetaTaskTitle, task.Title),
	}
	if s.cfg.Tasks.Source == config.TaskSourceGitHub && s.cfg.Tasks.GitHubOwner != "" {
		opts = append(opts, workflow.WithMetadata(workflow.MetaOrgSlug, s.cfg.Tasks.GitHubOwner))
	}
	wctx, err := workflow.NewContext(task.ID, subtasks, opts...)
	if err != nil {
		return nil, err
	}

	ctx = logging.WithWorkflow(ctx, logging.Workflow{TaskID: task.ID, RunID: runID, ProjectRoot: root})
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("task_id", task.ID),
		attribute.Int("subtasks", len(subtasks)),
	)

	git, err := s.git(root)
	if err != nil {
		return nil, err
	}
	if err := git.EnsureRepository(ctx); err != nil {
		return nil, err
	}
	if s.cfg.Workflow.RequireCleanTree {
		if err := git.EnsureCleanWorkingTree(ctx); err != nil {
			return nil, err
		}
	}

	orch, err := workflow.New(wctx, s.orchestratorOptions()...)
	if err != nil {
		return nil, err
	}
	if err := store.Save(ctx, orch.State()); err != nil {
		return nil, err
	}
	orch.EnableAutoPersist(store.PersistFunc(ctx))
	sess := &session{root: root, store: store, orch: orch}

	if err := s.setup(ctx, sess, git); err != nil {
		if derr := store.Delete(ctx); derr != nil {
			err = errors.Join(err, derr)
		}
		return nil, err
	}

	s.logger.Info(ctx, "workflow started",
		zap.String("task_title", task.Title),
		zap.Int("subtasks", len(subtasks)),
		zap.Int("max_attempts", maxAttempts),
		zap.String("branch", orch.Context().BranchName))
	return s.statusOf(ctx, sess, git), nil
}

// clearPrevious removes a finished workflow, or any workflow when force is set.
func (s *Service) clearPrevious(ctx context.Context, store *statestore.Store, force bool) error {
	state, err := store.Load(ctx)
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		return nil
	case errors.Is(err, workflow.ErrCorruptState):
		if !force {
			return fmt.Errorf("existing state is unreadable, start with force to replace it: %w", err)
		}
		s.logger.Warn(ctx, "replacing corrupt workflow state", zap.Error(err))
	case err != nil:
		return err
	case state.Phase.IsTerminal():
	case !force:
		return fmt.Errorf("%w: task %s is in %s", ErrWorkflowExists, state.Context.TaskID, state.Phase)
	default:
		s.logger.Warn(ctx, "replacing unfinished workflow",
			zap.String("previous_task", state.Context.TaskID),
			zap.String("previous_phase", string(state.Phase)))
	}
	return store.Delete(ctx)
}

// setup drives PREFLIGHT and BRANCH_PENDING. Both steps are idempotent so an
// interrupted start can be resumed.
func (s *Service) setup(ctx context.Context, sess *session, git gitops.Client) error {
	if sess.orch.CurrentPhase() == workflow.PhasePreflight {
		if err := s.apply(ctx, sess, workflow.PreflightComplete()); err != nil {
			return err
		}
	}
	if sess.orch.CurrentPhase() != workflow.PhaseBranchPending {
		return nil
	}

	wctx := sess.orch.Context()
	name := branchName(s.cfg.Workflow.BranchPrefix, wctx.TaskID, wctx.Metadata[workflow.MetaTaskTitle])
	err := git.CreateAndCheckoutBranch(ctx, name)
	if errors.Is(err, gitops.ErrBranchExists) {
		st, serr := git.Status(ctx)
		if serr != nil || st.Branch != name {
			return err
		}
		// created by an earlier, interrupted run
		err = nil
	}
	if err != nil {
		return err
	}
	return s.apply(ctx, sess, workflow.BranchCreated(name))
}

// Resume reloads a workflow, finishing an interrupted start if needed.
func (s *Service) Resume(ctx context.Context, projectRoot string) (_ *Status, err error) {
	ctx, finish := s.span(ctx, "resume", projectRoot)
	defer finish(&err)

	ctx, sess, err := s.open(ctx, projectRoot)
	if err != nil {
		return nil, err
	}
	git, err := s.git(sess.root)
	if err != nil {
		return nil, err
	}
	switch sess.orch.CurrentPhase() {
	case workflow.PhasePreflight, workflow.PhaseBranchPending:
		if err := git.EnsureRepository(ctx); err != nil {
			return nil, err
		}
		if err := s.setup(ctx, sess, git); err != nil {
			return nil, err
		}
	}
	s.logger.Info(ctx, "workflow resumed",
		zap.String("phase", string(sess.orch.CurrentPhase())),
		zap.Int64("revision", sess.store.Revision()))
	return s.statusOf(ctx, sess, git), nil
}
