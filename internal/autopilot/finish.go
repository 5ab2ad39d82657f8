package autopilot

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autopilot/internal/workflow"
)

// Finalize completes a workflow whose subtasks are all committed and removes its
// state file. The returned status is the final snapshot.
func (s *Service) Finalize(ctx context.Context, projectRoot string) (_ *Status, err error) {
	ctx, finish := s.span(ctx, "finalize", projectRoot)
	defer finish(&err)

	ctx, sess, err := s.open(ctx, projectRoot)
	if err != nil {
		return nil, err
	}
	if phase := sess.orch.CurrentPhase(); phase != workflow.PhaseFinalize {
		return nil, fmt.Errorf("%w: finalize requires %s, workflow is in %s",
			workflow.ErrInvalidTransition, workflow.PhaseFinalize, describe(sess.orch))
	}
	git, err := s.git(sess.root)
	if err != nil {
		return nil, err
	}
	if err := git.EnsureCleanWorkingTree(ctx); err != nil {
		return nil, err
	}
	if err := s.apply(ctx, sess, workflow.FinalizeComplete()); err != nil {
		return nil, err
	}

	status := s.statusOf(ctx, sess, git)
	if err := sess.store.Delete(ctx); err != nil {
		return status, err
	}
	s.logger.Info(ctx, "workflow complete",
		zap.String("branch", status.Branch),
		zap.Int("subtasks", status.Progress.Total))
	return status, nil
}

// AbortRequest stops a workflow.
type AbortRequest struct {
	ProjectRoot string `json:"projectRoot"`
	Reason      string `json:"reason,omitempty"`

	// Force also removes a state file that cannot be read.
	Force bool `json:"force,omitempty"`
}

// AbortResult is the outcome of Abort.
type AbortResult struct {
	// NoOp is set when there was nothing to abort.
	NoOp bool `json:"noOp"`

	// Status is the aborted snapshot; nil for a no-op or a removed corrupt file.
	Status *Status `json:"status,omitempty"`
}

// Abort records ABORT and removes the state file. Aborting a project without a
// workflow is a no-op; commits and branches are left in place.
func (s *Service) Abort(ctx context.Context, req AbortRequest) (_ *AbortResult, err error) {
	ctx, finish := s.span(ctx, "abort", req.ProjectRoot)
	defer finish(&err)

	ctx, sess, err := s.open(ctx, req.ProjectRoot)
	switch {
	case errors.Is(err, ErrNoActiveWorkflow):
		s.logger.Warn(ctx, "no workflow to abort", zap.String("project_root", req.ProjectRoot))
		return &AbortResult{NoOp: true}, nil
	case errors.Is(err, workflow.ErrCorruptState) && req.Force:
		return s.removeCorrupt(ctx, req.ProjectRoot, err)
	case err != nil:
		return nil, err
	}

	if !sess.orch.CurrentPhase().IsTerminal() {
		if err := s.apply(ctx, sess, workflow.Abort(req.Reason)); err != nil {
			return nil, err
		}
	}
	status := s.statusOf(ctx, sess, nil)
	if err := sess.store.Delete(ctx); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "workflow aborted",
		zap.String("reason", req.Reason),
		zap.Int("completed", status.Progress.Completed))
	return &AbortResult{Status: status}, nil
}

func (s *Service) removeCorrupt(ctx context.Context, projectRoot string, cause error) (*AbortResult, error) {
	root, err := normalizeRoot(projectRoot)
	if err != nil {
		return nil, err
	}
	store, err := s.store(root)
	if err != nil {
		return nil, err
	}
	if err := store.Delete(ctx); err != nil {
		return nil, err
	}
	s.logger.Warn(ctx, "removed unreadable workflow state", zap.Error(cause))
	return &AbortResult{}, nil
}
