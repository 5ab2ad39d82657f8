package workflow

import (
	"fmt"
)

// transitionKey identifies one row of the transition table. tdd is empty outside
// SUBTASK_LOOP.
type transitionKey struct {
	phase Phase
	tdd   TDDPhase
	event EventType
}

// transitionFunc mutates next in place. It reports whether next should replace the
// current state; a gate rejection that still changed bookkeeping returns true together
// with the error.
type transitionFunc func(o *Orchestrator, next *WorkflowState, ev Event) (bool, error)

var transitions = map[transitionKey]transitionFunc{
	{PhasePreflight, "", EventPreflightComplete}:                 onPreflightComplete,
	{PhaseBranchPending, "", EventBranchCreated}:                 onBranchCreated,
	{PhaseSubtaskLoop, TDDPhaseRed, EventRedPhaseComplete}:       onRedComplete,
	{PhaseSubtaskLoop, TDDPhaseGreen, EventGreenPhaseComplete}:   onGreenComplete,
	{PhaseSubtaskLoop, TDDPhaseGreen, EventRetrySubtask}:         onRetrySubtask,
	{PhaseSubtaskLoop, TDDPhaseCommit, EventCommitComplete}:      onCommitComplete,
	{PhaseSubtaskLoop, TDDPhaseCommit, EventSubtaskComplete}:     onSubtaskComplete,
	{PhaseSubtaskLoop, TDDPhaseCommit, EventAllSubtasksComplete}: onAllSubtasksComplete,
	{PhaseFinalize, "", EventFinalizeComplete}:                   onFinalizeComplete,
}

// lookupTransition returns the handler for ev in state s. ABORT is accepted from every
// non-terminal phase and is not listed in the table.
func lookupTransition(s WorkflowState, ev EventType) (transitionFunc, bool) {
	if ev == EventAbort {
		return onAbort, !s.Phase.IsTerminal()
	}
	key := transitionKey{phase: s.Phase, event: ev}
	if s.TDDPhase != nil {
		key.tdd = *s.TDDPhase
	}
	fn, ok := transitions[key]
	return fn, ok
}

func onPreflightComplete(_ *Orchestrator, next *WorkflowState, _ Event) (bool, error) {
	next.Phase = PhaseBranchPending
	return true, nil
}

func onBranchCreated(_ *Orchestrator, next *WorkflowState, ev Event) (bool, error) {
	if ev.BranchName == "" {
		return false, fmt.Errorf("%w: %s requires a branch name", ErrInvalidTransition, ev.Type)
	}
	next.Context.BranchName = ev.BranchName
	next.Context.CurrentSubtaskIndex = 0
	next.Context.Subtasks[0].Status = SubtaskInProgress
	next.Phase = PhaseSubtaskLoop
	next.TDDPhase = TDDPhaseRed.Ptr()
	return true, nil
}

func onRedComplete(o *Orchestrator, next *WorkflowState, ev Event) (bool, error) {
	if ev.TestResult == nil {
		return false, fmt.Errorf("%w: %s requires a test result", ErrPhaseValidationFailed, ev.Type)
	}
	cur := next.Context.current()
	decision := o.gates[TDDPhaseRed].Check(*ev.TestResult)
	if !decision.Accepted() {
		return false, fmt.Errorf("%w: RED gate rejected result for subtask %s: %s",
			ErrPhaseValidationFailed, cur.ID, decision.Reason)
	}
	if decision.Outcome == GateAlreadySatisfied {
		next.Context.Metadata[RedAlreadySatisfiedKey(cur.ID)] = "true"
	}
	result := *ev.TestResult
	next.Context.LastTestResult = &result
	next.TDDPhase = TDDPhaseGreen.Ptr()
	return true, nil
}

func onGreenComplete(o *Orchestrator, next *WorkflowState, ev Event) (bool, error) {
	cur := next.Context.current()
	if cur.Status == SubtaskError {
		return false, fmt.Errorf("%w: subtask %s used %d of %d attempts",
			ErrMaxAttemptsExceeded, cur.ID, cur.Attempts, cur.MaxAttempts)
	}
	if ev.TestResult == nil {
		return false, fmt.Errorf("%w: %s requires a test result", ErrPhaseValidationFailed, ev.Type)
	}

	result := *ev.TestResult
	decision := o.gates[TDDPhaseGreen].Check(result)
	if decision.Accepted() {
		next.Context.LastTestResult = &result
		next.TDDPhase = TDDPhaseCommit.Ptr()
		return true, nil
	}

	// Malformed or mislabeled results are rejected without consuming an attempt.
	if result.Validate() != nil || result.Phase != TDDPhaseGreen {
		return false, fmt.Errorf("%w: GREEN gate rejected result for subtask %s: %s",
			ErrPhaseValidationFailed, cur.ID, decision.Reason)
	}

	cur.Attempts++
	next.Context.appendError(o.errorEntry(next, fmt.Sprintf("GREEN attempt %d/%d failed: %s",
		cur.Attempts, cur.MaxAttempts, decision.Reason)))

	if cur.Attempts >= cur.MaxAttempts {
		cur.Status = SubtaskError
		next.Context.appendError(o.errorEntry(next, fmt.Sprintf("subtask %s exhausted %d attempts",
			cur.ID, cur.MaxAttempts)))
		return true, fmt.Errorf("%w: subtask %s failed GREEN %d times",
			ErrMaxAttemptsExceeded, cur.ID, cur.Attempts)
	}
	return true, fmt.Errorf("%w: GREEN gate rejected result for subtask %s: %s (%d attempts left)",
		ErrPhaseValidationFailed, cur.ID, decision.Reason, cur.AttemptsLeft())
}

func onRetrySubtask(o *Orchestrator, next *WorkflowState, ev Event) (bool, error) {
	cur := next.Context.current()
	if cur.Status != SubtaskError {
		return false, fmt.Errorf("%w: subtask %s is %s, only errored subtasks can be retried",
			ErrInvalidTransition, cur.ID, cur.Status)
	}
	cur.Status = SubtaskInProgress
	cur.Attempts = 0
	next.Context.appendError(o.errorEntry(next, fmt.Sprintf("subtask %s reset for retry", cur.ID)))
	return true, nil
}

func onCommitComplete(_ *Orchestrator, next *WorkflowState, ev Event) (bool, error) {
	if decision := CheckCommit(&next.Context); !decision.Accepted() {
		return false, fmt.Errorf("%w: %s", ErrInvalidTransition, decision.Reason)
	}
	next.Context.current().Status = SubtaskCompleted
	next.Context.CurrentSubtaskIndex++
	return true, nil
}

func onSubtaskComplete(_ *Orchestrator, next *WorkflowState, ev Event) (bool, error) {
	c := &next.Context
	if c.CurrentSubtaskIndex == 0 || c.Subtasks[c.CurrentSubtaskIndex-1].Status != SubtaskCompleted {
		return false, fmt.Errorf("%w: current subtask has not been committed", ErrInvalidTransition)
	}
	cur := c.current()
	if cur == nil {
		return false, fmt.Errorf("%w: all %d subtasks are done, use %s",
			ErrInvalidTransition, len(c.Subtasks), EventAllSubtasksComplete)
	}
	cur.Status = SubtaskInProgress
	next.TDDPhase = TDDPhaseRed.Ptr()
	return true, nil
}

func onAllSubtasksComplete(_ *Orchestrator, next *WorkflowState, ev Event) (bool, error) {
	c := &next.Context
	if c.CurrentSubtaskIndex != len(c.Subtasks) {
		return false, fmt.Errorf("%w: %d of %d subtasks remain",
			ErrInvalidTransition, len(c.Subtasks)-c.CurrentSubtaskIndex, len(c.Subtasks))
	}
	next.Phase = PhaseFinalize
	next.TDDPhase = nil
	return true, nil
}

func onFinalizeComplete(_ *Orchestrator, next *WorkflowState, _ Event) (bool, error) {
	next.Phase = PhaseComplete
	return true, nil
}

func onAbort(o *Orchestrator, next *WorkflowState, ev Event) (bool, error) {
	if ev.Reason != "" {
		next.Context.appendError(o.errorEntry(next, "aborted: "+ev.Reason))
	}
	next.Phase = PhaseAborted
	next.TDDPhase = nil
	return true, nil
}
