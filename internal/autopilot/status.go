package autopilot

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autopilot/internal/gitops"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
)

// recentErrorCount bounds the error trail included in a Status.
const recentErrorCount = 5

// Action is a directive telling the agent what to do next.
type Action string

const (
	ActionPreflight        Action = "preflight"
	ActionCreateBranch     Action = "create_branch"
	ActionGenerateTest     Action = "generate_test"
	ActionImplementCode    Action = "implement_code"
	ActionCommitChanges    Action = "commit_changes"
	ActionAdvanceSubtask   Action = "advance_subtask"
	ActionFinalizeWorkflow Action = "finalize_workflow"
	ActionWorkflowComplete Action = "workflow_complete"
	ActionWorkflowAborted  Action = "workflow_aborted"
)

// NextAction describes the next step of a workflow.
type NextAction struct {
	Action      Action                `json:"action"`
	Description string                `json:"description"`
	Phase       workflow.Phase        `json:"phase"`
	TDDPhase    workflow.TDDPhase     `json:"tddPhase,omitempty"`
	Subtask     *workflow.SubtaskInfo `json:"subtask,omitempty"`

	// Blocked is set when the current subtask has exhausted its attempts.
	Blocked bool `json:"blocked,omitempty"`
}

// Status summarizes a workflow.
type Status struct {
	TaskID         string                 `json:"taskId"`
	TaskTitle      string                 `json:"taskTitle,omitempty"`
	RunID          string                 `json:"runId,omitempty"`
	ProjectRoot    string                 `json:"projectRoot"`
	Branch         string                 `json:"branch,omitempty"`
	Phase          workflow.Phase         `json:"phase"`
	TDDPhase       workflow.TDDPhase      `json:"tddPhase,omitempty"`
	Progress       workflow.Progress      `json:"progress"`
	CurrentSubtask *workflow.SubtaskInfo  `json:"currentSubtask,omitempty"`
	Subtasks       []workflow.SubtaskInfo `json:"subtasks"`
	LastTestResult *workflow.TestResult   `json:"lastTestResult,omitempty"`
	RecentErrors   []workflow.ErrorEntry  `json:"recentErrors"`
	LastCommit     *gitops.Commit         `json:"lastCommit,omitempty"`
	StartedAt      string                 `json:"startedAt,omitempty"`
	Revision       int64                  `json:"revision"`
	Next           NextAction             `json:"next"`
}

// NextFor maps a snapshot onto the directive for its phase pair.
func NextFor(state workflow.WorkflowState) NextAction {
	next := NextAction{Phase: state.Phase}
	if state.TDDPhase != nil {
		next.TDDPhase = *state.TDDPhase
	}
	cur, ok := state.Context.CurrentSubtask()
	if ok {
		next.Subtask = &cur
	}

	switch state.Phase {
	case workflow.PhasePreflight:
		next.Action = ActionPreflight
		next.Description = "Verify the repository and working tree, then run resume"
	case workflow.PhaseBranchPending:
		next.Action = ActionCreateBranch
		next.Description = "Create the feature branch, then run resume"
	case workflow.PhaseSubtaskLoop:
		switch next.TDDPhase {
		case workflow.TDDPhaseRed:
			next.Action = ActionGenerateTest
			next.Description = fmt.Sprintf("Write a failing test for subtask %s: %s", cur.ID, cur.Title)
		case workflow.TDDPhaseGreen:
			next.Action = ActionImplementCode
			if cur.Status == workflow.SubtaskError {
				next.Blocked = true
				next.Description = fmt.Sprintf("Subtask %s used all %d attempts; retry it or abort the workflow",
					cur.ID, cur.MaxAttempts)
			} else {
				next.Description = fmt.Sprintf("Implement subtask %s until the tests pass (%d attempts left)",
					cur.ID, cur.AttemptsLeft())
			}
		case workflow.TDDPhaseCommit:
			if ok && cur.Status == workflow.SubtaskInProgress {
				next.Action = ActionCommitChanges
				next.Description = fmt.Sprintf("Commit the changes for subtask %s", cur.ID)
			} else {
				next.Action = ActionAdvanceSubtask
				next.Description = "Subtask committed; advance to the next subtask"
			}
		}
	case workflow.PhaseFinalize:
		next.Action = ActionFinalizeWorkflow
		next.Description = "All subtasks are committed; finalize the workflow"
	case workflow.PhaseComplete:
		next.Action = ActionWorkflowComplete
		next.Description = "The workflow is complete"
	case workflow.PhaseAborted:
		next.Action = ActionWorkflowAborted
		next.Description = "The workflow was aborted"
	}
	return next
}

func (s *Service) statusOf(ctx context.Context, sess *session, git gitops.Client) *Status {
	state := sess.orch.State()
	c := state.Context
	st := &Status{
		TaskID:         c.TaskID,
		TaskTitle:      c.Metadata[workflow.MetaTaskTitle],
		RunID:          c.Metadata[workflow.MetaRunID],
		ProjectRoot:    sess.root,
		Branch:         c.BranchName,
		Phase:          state.Phase,
		Progress:       c.Progress(),
		Subtasks:       c.Subtasks,
		LastTestResult: c.LastTestResult,
		StartedAt:      c.Metadata[workflow.MetaStartedAt],
		Revision:       sess.store.Revision(),
		Next:           NextFor(state),
	}
	if state.TDDPhase != nil {
		st.TDDPhase = *state.TDDPhase
	}
	if cur, ok := c.CurrentSubtask(); ok {
		st.CurrentSubtask = &cur
	}
	st.RecentErrors = c.Errors
	if n := len(c.Errors); n > recentErrorCount {
		st.RecentErrors = c.Errors[n-recentErrorCount:]
	}

	if git != nil {
		if commit, err := git.LastCommit(ctx); err == nil {
			st.LastCommit = &commit
		} else {
			s.logger.Debug(ctx, "no last commit", zap.Error(err))
		}
	}
	return st
}

// Status reports the current workflow of a project.
func (s *Service) Status(ctx context.Context, projectRoot string) (_ *Status, err error) {
	ctx, finish := s.span(ctx, "status", projectRoot)
	defer finish(&err)

	ctx, sess, err := s.open(ctx, projectRoot)
	if err != nil {
		return nil, err
	}
	git, gerr := s.git(sess.root)
	if gerr != nil {
		git = nil
	}
	return s.statusOf(ctx, sess, git), nil
}

// Next returns the directive for the current workflow of a project.
func (s *Service) Next(ctx context.Context, projectRoot string) (_ *NextAction, err error) {
	ctx, finish := s.span(ctx, "next", projectRoot)
	defer finish(&err)

	_, sess, err := s.open(ctx, projectRoot)
	if err != nil {
		return nil, err
	}
	next := NextFor(sess.orch.State())
	return &next, nil
}
