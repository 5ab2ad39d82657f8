package autopilot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/autopilot/internal/workflow"
)

func TestNextFor(t *testing.T) {
	subtasks := []workflow.SubtaskInfo{{ID: "1.1", Title: "a"}, {ID: "1.2", Title: "b"}}
	newOrch := func(t *testing.T, maxAttempts int) *workflow.Orchestrator {
		wctx, err := workflow.NewContext("1", subtasks, workflow.WithMaxAttempts(maxAttempts))
		require.NoError(t, err)
		orch, err := workflow.New(wctx)
		require.NoError(t, err)
		return orch
	}
	step := func(t *testing.T, o *workflow.Orchestrator, evs ...workflow.Event) {
		for _, ev := range evs {
			_, err := o.Transition(ev)
			require.NoError(t, err, ev.Type)
		}
	}
	red := workflow.RedPhaseComplete(workflow.TestResult{Total: 1, Failed: 1, Phase: workflow.TDDPhaseRed})
	green := workflow.GreenPhaseComplete(workflow.TestResult{Total: 1, Passed: 1, Phase: workflow.TDDPhaseGreen})
	toLoop := []workflow.Event{workflow.PreflightComplete(), workflow.BranchCreated("b")}

	tests := []struct {
		name    string
		events  []workflow.Event
		want    Action
		subtask string
	}{
		{"preflight", nil, ActionPreflight, "1.1"},
		{"branch pending", toLoop[:1], ActionCreateBranch, "1.1"},
		{"red", toLoop, ActionGenerateTest, "1.1"},
		{"green", append(toLoop, red), ActionImplementCode, "1.1"},
		{"commit", append(toLoop, red, green), ActionCommitChanges, "1.1"},
		{"committed", append(toLoop, red, green, workflow.CommitComplete()), ActionAdvanceSubtask, "1.2"},
		{"second red", append(toLoop, red, green, workflow.CommitComplete(), workflow.SubtaskComplete()), ActionGenerateTest, "1.2"},
		{"aborted", append(toLoop, workflow.Abort("x")), ActionWorkflowAborted, "1.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOrch(t, 3)
			step(t, o, tt.events...)
			next := NextFor(o.State())
			assert.Equal(t, tt.want, next.Action)
			assert.NotEmpty(t, next.Description)
			require.NotNil(t, next.Subtask)
			assert.Equal(t, tt.subtask, next.Subtask.ID)
			assert.False(t, next.Blocked)
		})
	}

	t.Run("finalize and complete", func(t *testing.T) {
		o := newOrch(t, 3)
		step(t, o, toLoop...)
		step(t, o, red, green, workflow.CommitComplete(), workflow.SubtaskComplete())
		step(t, o, red, green, workflow.CommitComplete(), workflow.AllSubtasksComplete())

		next := NextFor(o.State())
		assert.Equal(t, ActionFinalizeWorkflow, next.Action)
		assert.Nil(t, next.Subtask)

		step(t, o, workflow.FinalizeComplete())
		assert.Equal(t, ActionWorkflowComplete, NextFor(o.State()).Action)
	})

	t.Run("blocked", func(t *testing.T) {
		o := newOrch(t, 1)
		step(t, o, toLoop...)
		step(t, o, red)
		_, err := o.Transition(workflow.GreenPhaseComplete(workflow.TestResult{Total: 1, Failed: 1, Phase: workflow.TDDPhaseGreen}))
		require.ErrorIs(t, err, workflow.ErrMaxAttemptsExceeded)

		next := NextFor(o.State())
		assert.Equal(t, ActionImplementCode, next.Action)
		assert.True(t, next.Blocked)
	})
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Parse Config Files", "parse-config-files"},
		{"  Add --retry flag!! ", "add-retry-flag"},
		{"Crème brûlée über Straße", "creme-brulee-uber-stra-e"},
		{"Implement OAuth2 (PKCE) support", "implement-oauth2-pkce-support"},
		{"日本語", ""},
		{"", ""},
		{"a very long title that keeps going and going well past the limit", "a-very-long-title-that-keeps-going-and-g"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := slugify(tt.in)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len(got), maxSlugLen)
		})
	}
}

func TestBranchName(t *testing.T) {
	assert.Equal(t, "autopilot/task-12-fix-login", branchName("autopilot/", "12", "Fix login"))
	assert.Equal(t, "task-gh-4", branchName("", "gh 4", ""))
}
