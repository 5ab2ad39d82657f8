package workflow

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

// recorder is a persistence hook that keeps every snapshot it receives.
type recorder struct {
	saved []WorkflowState
	err   error
}

func (r *recorder) hook(s WorkflowState) error {
	r.saved = append(r.saved, s)
	return r.err
}

func (r *recorder) last() WorkflowState {
	return r.saved[len(r.saved)-1]
}

func testSubtasks(n int) []SubtaskInfo {
	out := make([]SubtaskInfo, n)
	for i := range out {
		out[i] = SubtaskInfo{ID: fmt.Sprintf("7.%d", i+1), Title: fmt.Sprintf("step %d", i+1)}
	}
	return out
}

func newTestOrchestrator(t *testing.T, subtasks, maxAttempts int) (*Orchestrator, *recorder) {
	t.Helper()
	wctx, err := NewContext("7", testSubtasks(subtasks),
		WithMaxAttempts(maxAttempts), WithStartedAt(fixedNow))
	require.NoError(t, err)
	orch, err := New(wctx, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	rec := &recorder{}
	orch.EnableAutoPersist(rec.hook)
	return orch, rec
}

func mustTransition(t *testing.T, o *Orchestrator, ev Event) WorkflowState {
	t.Helper()
	s, err := o.Transition(ev)
	require.NoError(t, err, "event %s", ev.Type)
	return s
}

// toLoop drives a fresh orchestrator into SUBTASK_LOOP/RED.
func toLoop(t *testing.T, o *Orchestrator) {
	t.Helper()
	mustTransition(t, o, PreflightComplete())
	mustTransition(t, o, BranchCreated("autopilot/task-7-demo"))
}

func red(failed int) TestResult {
	return TestResult{Total: 5, Passed: 5 - failed, Failed: failed, Phase: TDDPhaseRed}
}

func green(failed int) TestResult {
	return TestResult{Total: 5, Passed: 5 - failed, Failed: failed, Phase: TDDPhaseGreen}
}

// completeSubtask runs one full RED/GREEN/COMMIT cycle and the advance event.
func completeSubtask(t *testing.T, o *Orchestrator) {
	t.Helper()
	mustTransition(t, o, RedPhaseComplete(red(1)))
	mustTransition(t, o, GreenPhaseComplete(green(0)))
	mustTransition(t, o, CommitComplete())
	if _, ok := o.CurrentSubtask(); ok {
		mustTransition(t, o, SubtaskComplete())
	}
}

func TestNew_InitialState(t *testing.T) {
	orch, rec := newTestOrchestrator(t, 3, 3)

	assert.Equal(t, PhasePreflight, orch.CurrentPhase())
	_, ok := orch.CurrentTDDPhase()
	assert.False(t, ok)
	assert.Empty(t, rec.saved, "construction must not persist")

	// Scenario A
	assert.Equal(t, Progress{Completed: 0, Total: 3, Current: 0, Percentage: 0}, orch.Progress())
}

func TestNew_RejectsNilContext(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrInvalidContext)
}

func TestTransition_HappyPath(t *testing.T) {
	orch, rec := newTestOrchestrator(t, 3, 3)

	s := mustTransition(t, orch, PreflightComplete())
	assert.Equal(t, PhaseBranchPending, s.Phase)

	s = mustTransition(t, orch, BranchCreated("autopilot/task-7-demo"))
	assert.Equal(t, PhaseSubtaskLoop, s.Phase)
	require.NotNil(t, s.TDDPhase)
	assert.Equal(t, TDDPhaseRed, *s.TDDPhase)
	assert.Equal(t, "autopilot/task-7-demo", s.Context.BranchName)
	assert.Equal(t, SubtaskInProgress, s.Context.Subtasks[0].Status)

	for i := 0; i < 3; i++ {
		cur, ok := orch.CurrentSubtask()
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("7.%d", i+1), cur.ID)
		completeSubtask(t, orch)
	}

	// Scenario D
	tdd, ok := orch.CurrentTDDPhase()
	require.True(t, ok)
	assert.Equal(t, TDDPhaseCommit, tdd)
	s = mustTransition(t, orch, AllSubtasksComplete())
	assert.Equal(t, PhaseFinalize, s.Phase)
	assert.Nil(t, s.TDDPhase)
	p := orch.Progress()
	assert.Equal(t, 3, p.Completed)
	assert.Equal(t, 3, p.Total)
	assert.Equal(t, 100, p.Percentage)

	s = mustTransition(t, orch, FinalizeComplete())
	assert.Equal(t, PhaseComplete, s.Phase)

	// 2 setup + 3*(red, green, commit) + 2 advances + all-done + finalize
	assert.Len(t, rec.saved, 2+9+2+1+1)
	assert.Equal(t, orch.State(), rec.last())
}

func TestTransition_RedAcceptsFailures(t *testing.T) {
	orch, _ := newTestOrchestrator(t, 3, 3)
	toLoop(t, orch)

	// Scenario B
	s, err := orch.Transition(RedPhaseComplete(TestResult{Total: 5, Passed: 4, Failed: 1, Phase: TDDPhaseRed}))
	require.NoError(t, err)
	assert.Equal(t, TDDPhaseGreen, *s.TDDPhase)
	require.NotNil(t, s.Context.LastTestResult)
	assert.Equal(t, 1, s.Context.LastTestResult.Failed)
}

func TestTransition_RedZeroFailuresAdvances(t *testing.T) {
	orch, _ := newTestOrchestrator(t, 2, 3)
	toLoop(t, orch)

	s, err := orch.Transition(RedPhaseComplete(red(0)))
	require.NoError(t, err)
	assert.Equal(t, TDDPhaseGreen, *s.TDDPhase)
	assert.Equal(t, "true", s.Context.Metadata[RedAlreadySatisfiedKey("7.1")])
}

func TestTransition_RedRejectsWrongPhaseLabel(t *testing.T) {
	orch, rec := newTestOrchestrator(t, 2, 3)
	toLoop(t, orch)
	before := len(rec.saved)

	_, err := orch.Transition(RedPhaseComplete(green(1)))
	require.ErrorIs(t, err, ErrPhaseValidationFailed)

	tdd, _ := orch.CurrentTDDPhase()
	assert.Equal(t, TDDPhaseRed, tdd)
	assert.Len(t, rec.saved, before, "rejected result must not persist")
}

func TestTransition_MissingOrMalformedResult(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
	}{
		{"nil result", Event{Type: EventRedPhaseComplete}},
		{"negative counter", RedPhaseComplete(TestResult{Total: 1, Failed: -1, Phase: TDDPhaseRed})},
		{"sum exceeds total", RedPhaseComplete(TestResult{Total: 2, Passed: 2, Failed: 1, Phase: TDDPhaseRed})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch, _ := newTestOrchestrator(t, 1, 3)
			toLoop(t, orch)
			_, err := orch.Transition(tt.ev)
			assert.ErrorIs(t, err, ErrPhaseValidationFailed)
		})
	}
}

func TestTransition_GreenFailureConsumesAttempt(t *testing.T) {
	orch, rec := newTestOrchestrator(t, 3, 3)
	toLoop(t, orch)
	mustTransition(t, orch, RedPhaseComplete(red(1)))
	before := len(rec.saved)

	// Scenario C
	s, err := orch.Transition(GreenPhaseComplete(TestResult{Total: 5, Passed: 4, Failed: 1, Phase: TDDPhaseGreen}))
	require.ErrorIs(t, err, ErrPhaseValidationFailed)
	assert.NotErrorIs(t, err, ErrMaxAttemptsExceeded)
	assert.Equal(t, TDDPhaseGreen, *s.TDDPhase)
	assert.Equal(t, 1, s.Context.Subtasks[0].Attempts)
	assert.Equal(t, SubtaskInProgress, s.Context.Subtasks[0].Status)
	require.Len(t, s.Context.Errors, 1)
	assert.Equal(t, "7.1", s.Context.Errors[0].SubtaskID)
	assert.Equal(t, fixedNow, s.Context.Errors[0].Timestamp)

	// the consumed attempt is persisted
	require.Len(t, rec.saved, before+1)
	assert.Equal(t, 1, rec.last().Context.Subtasks[0].Attempts)

	// a later passing run still closes GREEN
	s = mustTransition(t, orch, GreenPhaseComplete(green(0)))
	assert.Equal(t, TDDPhaseCommit, *s.TDDPhase)
}

func TestTransition_GreenWrongLabelDoesNotConsumeAttempt(t *testing.T) {
	orch, _ := newTestOrchestrator(t, 1, 3)
	toLoop(t, orch)
	mustTransition(t, orch, RedPhaseComplete(red(1)))

	s, err := orch.Transition(GreenPhaseComplete(red(1)))
	require.ErrorIs(t, err, ErrPhaseValidationFailed)
	assert.Equal(t, 0, s.Context.Subtasks[0].Attempts)
}

func TestTransition_MaxAttemptsBoundary(t *testing.T) {
	orch, rec := newTestOrchestrator(t, 2, 1)
	toLoop(t, orch)
	mustTransition(t, orch, RedPhaseComplete(red(1)))

	s, err := orch.Transition(GreenPhaseComplete(green(2)))
	require.ErrorIs(t, err, ErrMaxAttemptsExceeded)
	assert.Equal(t, SubtaskError, s.Context.Subtasks[0].Status)
	assert.Equal(t, 1, s.Context.Subtasks[0].Attempts)
	assert.Equal(t, TDDPhaseGreen, *s.TDDPhase)
	assert.Equal(t, SubtaskError, rec.last().Context.Subtasks[0].Status)
	saved := len(rec.saved)

	// no further automatic attempts, even with a passing result
	_, err = orch.Transition(GreenPhaseComplete(green(0)))
	require.ErrorIs(t, err, ErrMaxAttemptsExceeded)
	assert.Equal(t, 1, orch.State().Context.Subtasks[0].Attempts)
	assert.Len(t, rec.saved, saved)
}

func TestTransition_MaxAttemptsAfterSeveralFailures(t *testing.T) {
	orch, _ := newTestOrchestrator(t, 1, 3)
	toLoop(t, orch)
	mustTransition(t, orch, RedPhaseComplete(red(1)))

	for i := 1; i < 3; i++ {
		_, err := orch.Transition(GreenPhaseComplete(green(1)))
		require.ErrorIs(t, err, ErrPhaseValidationFailed)
	}
	_, err := orch.Transition(GreenPhaseComplete(green(1)))
	require.ErrorIs(t, err, ErrMaxAttemptsExceeded)

	cur, ok := orch.CurrentSubtask()
	require.True(t, ok)
	assert.Equal(t, SubtaskError, cur.Status)
	assert.Equal(t, 3, cur.Attempts)
}

func TestTransition_RetrySubtask(t *testing.T) {
	orch, _ := newTestOrchestrator(t, 1, 1)
	toLoop(t, orch)
	mustTransition(t, orch, RedPhaseComplete(red(1)))

	_, err := orch.Transition(RetrySubtask())
	require.ErrorIs(t, err, ErrInvalidTransition, "retry requires an errored subtask")

	_, err = orch.Transition(GreenPhaseComplete(green(1)))
	require.ErrorIs(t, err, ErrMaxAttemptsExceeded)

	s := mustTransition(t, orch, RetrySubtask())
	assert.Equal(t, SubtaskInProgress, s.Context.Subtasks[0].Status)
	assert.Equal(t, 0, s.Context.Subtasks[0].Attempts)

	s = mustTransition(t, orch, GreenPhaseComplete(green(0)))
	assert.Equal(t, TDDPhaseCommit, *s.TDDPhase)
}

func TestTransition_AbortMidGreen(t *testing.T) {
	orch, rec := newTestOrchestrator(t, 3, 3)
	toLoop(t, orch)
	completeSubtask(t, orch)
	mustTransition(t, orch, RedPhaseComplete(red(1)))
	before := orch.Progress()

	// Scenario E
	s := mustTransition(t, orch, Abort("operator request"))
	assert.Equal(t, PhaseAborted, s.Phase)
	assert.Nil(t, s.TDDPhase)
	assert.Equal(t, before, orch.Progress())
	assert.Equal(t, PhaseAborted, rec.last().Phase)
	require.NotEmpty(t, s.Context.Errors)
	assert.Contains(t, s.Context.Errors[len(s.Context.Errors)-1].Message, "operator request")
}

func TestTransition_AbortFromEveryNonTerminalPhase(t *testing.T) {
	setups := map[Phase]func(t *testing.T, o *Orchestrator){
		PhasePreflight:     func(*testing.T, *Orchestrator) {},
		PhaseBranchPending: func(t *testing.T, o *Orchestrator) { mustTransition(t, o, PreflightComplete()) },
		PhaseSubtaskLoop:   toLoop,
		PhaseFinalize: func(t *testing.T, o *Orchestrator) {
			toLoop(t, o)
			completeSubtask(t, o)
			mustTransition(t, o, AllSubtasksComplete())
		},
	}
	for phase, setup := range setups {
		t.Run(string(phase), func(t *testing.T) {
			orch, _ := newTestOrchestrator(t, 1, 3)
			setup(t, orch)
			require.Equal(t, phase, orch.CurrentPhase())
			assert.True(t, orch.CanTransition(EventAbort))
			s := mustTransition(t, orch, Abort(""))
			assert.Equal(t, PhaseAborted, s.Phase)
		})
	}
}

func TestTransition_TerminalPhasesRejectEverything(t *testing.T) {
	orch, _ := newTestOrchestrator(t, 1, 3)
	mustTransition(t, orch, Abort(""))

	for _, ev := range []Event{Abort(""), PreflightComplete(), FinalizeComplete(), RetrySubtask()} {
		_, err := orch.Transition(ev)
		assert.ErrorIs(t, err, ErrInvalidTransition, "event %s", ev.Type)
		assert.False(t, orch.CanTransition(ev.Type))
	}
}

func TestTransition_InvalidEventsLeaveStateUntouched(t *testing.T) {
	orch, rec := newTestOrchestrator(t, 2, 3)

	tests := []Event{
		BranchCreated("x"),
		RedPhaseComplete(red(1)),
		CommitComplete(),
		AllSubtasksComplete(),
		FinalizeComplete(),
	}
	for _, ev := range tests {
		before := orch.State()
		_, err := orch.Transition(ev)
		assert.ErrorIs(t, err, ErrInvalidTransition, "event %s", ev.Type)
		assert.Equal(t, before, orch.State())
	}
	assert.Empty(t, rec.saved)
}

func TestTransition_BranchCreatedRequiresName(t *testing.T) {
	orch, _ := newTestOrchestrator(t, 1, 3)
	mustTransition(t, orch, PreflightComplete())

	_, err := orch.Transition(BranchCreated(""))
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, PhaseBranchPending, orch.CurrentPhase())
}

func TestTransition_SubtaskOrderingGuards(t *testing.T) {
	orch, _ := newTestOrchestrator(t, 2, 3)
	toLoop(t, orch)
	mustTransition(t, orch, RedPhaseComplete(red(1)))
	mustTransition(t, orch, GreenPhaseComplete(green(0)))

	// COMMIT before COMMIT_COMPLETE cannot advance
	_, err := orch.Transition(SubtaskComplete())
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = orch.Transition(AllSubtasksComplete())
	require.ErrorIs(t, err, ErrInvalidTransition)

	mustTransition(t, orch, CommitComplete())
	_, err = orch.Transition(CommitComplete())
	require.ErrorIs(t, err, ErrInvalidTransition, "committing twice")
	_, err = orch.Transition(AllSubtasksComplete())
	require.ErrorIs(t, err, ErrInvalidTransition, "one subtask remains")

	s := mustTransition(t, orch, SubtaskComplete())
	assert.Equal(t, 1, s.Context.CurrentSubtaskIndex)
	assert.Equal(t, SubtaskInProgress, s.Context.Subtasks[1].Status)
	assert.Equal(t, TDDPhaseRed, *s.TDDPhase)
}

func TestTransition_PersistenceFailure(t *testing.T) {
	orch, rec := newTestOrchestrator(t, 1, 3)
	rec.err = errors.New("disk full")

	s, err := orch.Transition(PreflightComplete())
	require.ErrorIs(t, err, ErrPersistenceFailure)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, PhaseBranchPending, s.Phase)
	assert.Equal(t, PhaseBranchPending, orch.CurrentPhase(), "in-memory state still advances")
}

func TestTransition_PersistenceFailureJoinsGateError(t *testing.T) {
	orch, rec := newTestOrchestrator(t, 1, 3)
	toLoop(t, orch)
	mustTransition(t, orch, RedPhaseComplete(red(1)))
	rec.err = errors.New("read-only file system")

	_, err := orch.Transition(GreenPhaseComplete(green(1)))
	assert.ErrorIs(t, err, ErrPhaseValidationFailed)
	assert.ErrorIs(t, err, ErrPersistenceFailure)
}

func TestTransition_WithoutHook(t *testing.T) {
	wctx, err := NewContext("1", testSubtasks(1))
	require.NoError(t, err)
	orch, err := New(wctx)
	require.NoError(t, err)

	_, err = orch.Transition(PreflightComplete())
	assert.NoError(t, err)

	rec := &recorder{}
	orch.EnableAutoPersist(rec.hook)
	orch.DisableAutoPersist()
	_, err = orch.Transition(BranchCreated("b"))
	assert.NoError(t, err)
	assert.Empty(t, rec.saved)
}

func TestState_SnapshotsAreIsolated(t *testing.T) {
	orch, rec := newTestOrchestrator(t, 2, 3)
	toLoop(t, orch)

	snap := orch.State()
	snap.Context.Subtasks[0].Status = SubtaskCompleted
	snap.Context.Metadata["tampered"] = "yes"
	*snap.TDDPhase = TDDPhaseCommit
	rec.saved[0].Phase = PhaseAborted

	fresh := orch.State()
	assert.Equal(t, SubtaskInProgress, fresh.Context.Subtasks[0].Status)
	assert.NotContains(t, fresh.Context.Metadata, "tampered")
	assert.Equal(t, TDDPhaseRed, *fresh.TDDPhase)

	c := orch.Context()
	c.Subtasks[1].Title = "changed"
	assert.Equal(t, "step 2", orch.State().Context.Subtasks[1].Title)
}

func TestProgress_TotalStableAcrossLifecycle(t *testing.T) {
	orch, _ := newTestOrchestrator(t, 4, 3)
	toLoop(t, orch)
	for i := 0; i < 4; i++ {
		assert.Equal(t, 4, orch.Progress().Total)
		completeSubtask(t, orch)
	}
	mustTransition(t, orch, AllSubtasksComplete())
	assert.Equal(t, 4, orch.Progress().Total)
}

func TestRestore_RoundTripQueries(t *testing.T) {
	orch, rec := newTestOrchestrator(t, 3, 3)
	toLoop(t, orch)
	completeSubtask(t, orch)
	mustTransition(t, orch, RedPhaseComplete(red(2)))

	restored, err := Restore(rec.last())
	require.NoError(t, err)

	assert.Equal(t, orch.CurrentPhase(), restored.CurrentPhase())
	wantTDD, _ := orch.CurrentTDDPhase()
	gotTDD, _ := restored.CurrentTDDPhase()
	assert.Equal(t, wantTDD, gotTDD)
	assert.Equal(t, orch.Progress(), restored.Progress())
	wantSub, _ := orch.CurrentSubtask()
	gotSub, _ := restored.CurrentSubtask()
	assert.Equal(t, wantSub, gotSub)
}

func TestRestore_RejectsBrokenSnapshot(t *testing.T) {
	orch, _ := newTestOrchestrator(t, 2, 3)
	toLoop(t, orch)
	snap := orch.State()
	snap.TDDPhase = nil

	_, err := Restore(snap)
	assert.ErrorIs(t, err, ErrCorruptState)

	// the existing orchestrator keeps its state when RestoreState fails
	require.Error(t, orch.RestoreState(snap))
	assert.Equal(t, PhaseSubtaskLoop, orch.CurrentPhase())
}

func TestCanTransition(t *testing.T) {
	orch, _ := newTestOrchestrator(t, 1, 3)
	assert.True(t, orch.CanTransition(EventPreflightComplete))
	assert.False(t, orch.CanTransition(EventBranchCreated))

	toLoop(t, orch)
	assert.True(t, orch.CanTransition(EventRedPhaseComplete))
	assert.False(t, orch.CanTransition(EventGreenPhaseComplete))
}

func TestErrorTrailIsBounded(t *testing.T) {
	orch, _ := newTestOrchestrator(t, 1, MaxErrorEntries+10)
	toLoop(t, orch)
	mustTransition(t, orch, RedPhaseComplete(red(1)))

	for i := 0; i < MaxErrorEntries+5; i++ {
		_, err := orch.Transition(GreenPhaseComplete(green(1)))
		require.ErrorIs(t, err, ErrPhaseValidationFailed)
	}
	errs := orch.State().Context.Errors
	assert.Len(t, errs, MaxErrorEntries)
	assert.Contains(t, errs[len(errs)-1].Message, fmt.Sprintf("attempt %d/", MaxErrorEntries+5))
}
