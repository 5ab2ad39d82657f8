// Package workflow implements the test-first workflow state machine that autopilot drives.
//
// # Overview
//
// A workflow walks one task through its ordered subtasks. Every subtask passes through a
// RED (failing test), GREEN (passing test) and COMMIT step before the next one starts:
//
//	PREFLIGHT → BRANCH_PENDING → SUBTASK_LOOP → FINALIZE → COMPLETE
//	                                 │
//	                                 └─ RED → GREEN → COMMIT (once per subtask)
//
// ABORT is accepted from any non-terminal phase and moves straight to ABORTED.
//
// # Key Components
//
// ## Orchestrator
//
// The Orchestrator owns a WorkflowState and applies Events to it through a fixed
// transition table. It never touches the filesystem: after every successful mutation it
// calls the PersistFunc registered with EnableAutoPersist and waits for it to return.
// A transition is only reported as successful once the hook succeeded.
//
// ## Phase Gates
//
// RedGate and GreenGate decide whether a reported TestResult closes the active TDD
// step. A RED result with zero failures is reported as already satisfied and advances to
// GREEN. A failing GREEN result consumes one attempt of the subtask; when the attempts are
// used up the subtask moves to the error status and ErrMaxAttemptsExceeded is returned
// until the subtask is retried or the workflow aborted.
//
// ## Snapshots
//
// WorkflowState is the only unit that is ever persisted. State() always returns a deep
// copy, so callers may keep or mutate returned snapshots freely. EncodeState and
// DecodeState provide the versioned JSON form used by the state store.
//
// # Errors
//
// All failures are returned as wrapped sentinel errors (ErrInvalidTransition,
// ErrPhaseValidationFailed, ErrMaxAttemptsExceeded, ErrCorruptState, ErrNotFound,
// ErrConcurrentModification, ErrPersistenceFailure) and are matched with errors.Is.
//
// # Usage Example
//
//	wctx, err := workflow.NewContext("42", subtasks, workflow.WithMaxAttempts(3))
//	if err != nil {
//	    return err
//	}
//	orch, err := workflow.New(wctx)
//	if err != nil {
//	    return err
//	}
//	orch.EnableAutoPersist(func(s workflow.WorkflowState) error {
//	    return store.Save(ctx, s)
//	})
//	_, err = orch.Transition(workflow.PreflightComplete())
package workflow
