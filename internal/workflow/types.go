package workflow

import (
	"fmt"
	"time"
)

// Phase is the top-level state of a workflow.
type Phase string

const (
	// PhasePreflight runs repository sanity checks before any subtask work.
	PhasePreflight Phase = "PREFLIGHT"

	// PhaseBranchPending waits for the working branch to be created.
	PhaseBranchPending Phase = "BRANCH_PENDING"

	// PhaseSubtaskLoop processes subtasks one at a time through the TDD cycle.
	PhaseSubtaskLoop Phase = "SUBTASK_LOOP"

	// PhaseFinalize gates final acceptance once every subtask is committed.
	PhaseFinalize Phase = "FINALIZE"

	// PhaseComplete is terminal.
	PhaseComplete Phase = "COMPLETE"

	// PhaseAborted is terminal.
	PhaseAborted Phase = "ABORTED"
)

// AllPhases returns all phases in execution order, ABORTED last.
func AllPhases() []Phase {
	return []Phase{
		PhasePreflight, PhaseBranchPending, PhaseSubtaskLoop,
		PhaseFinalize, PhaseComplete, PhaseAborted,
	}
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	for _, known := range AllPhases() {
		if p == known {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no event is accepted in this phase.
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseAborted
}

// TDDPhase is the nested step while the workflow is in SUBTASK_LOOP.
type TDDPhase string

const (
	TDDPhaseRed    TDDPhase = "RED"
	TDDPhaseGreen  TDDPhase = "GREEN"
	TDDPhaseCommit TDDPhase = "COMMIT"
)

// Valid reports whether t is a known TDD phase.
func (t TDDPhase) Valid() bool {
	return t == TDDPhaseRed || t == TDDPhaseGreen || t == TDDPhaseCommit
}

// Ptr returns a pointer to a copy of t.
func (t TDDPhase) Ptr() *TDDPhase {
	return &t
}

// SubtaskStatus is the lifecycle status of a single subtask.
type SubtaskStatus string

const (
	SubtaskPending    SubtaskStatus = "pending"
	SubtaskInProgress SubtaskStatus = "in-progress"
	SubtaskCompleted  SubtaskStatus = "completed"
	SubtaskError      SubtaskStatus = "error"
)

// Valid reports whether s is a known subtask status.
func (s SubtaskStatus) Valid() bool {
	switch s {
	case SubtaskPending, SubtaskInProgress, SubtaskCompleted, SubtaskError:
		return true
	}
	return false
}

// SubtaskInfo describes one subtask and its attempt bookkeeping.
type SubtaskInfo struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Status      SubtaskStatus `json:"status"`
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"maxAttempts"`
}

// AttemptsLeft returns how many GREEN failures the subtask can still absorb.
func (s SubtaskInfo) AttemptsLeft() int {
	if left := s.MaxAttempts - s.Attempts; left > 0 {
		return left
	}
	return 0
}

// TestResult is the summary of one run of the project's test suite.
type TestResult struct {
	Total   int      `json:"total"`
	Passed  int      `json:"passed"`
	Failed  int      `json:"failed"`
	Skipped int      `json:"skipped"`
	Phase   TDDPhase `json:"phase"`
}

// Validate checks the counters of r. The phase label is checked by the gates.
func (r TestResult) Validate() error {
	if r.Total < 0 || r.Passed < 0 || r.Failed < 0 || r.Skipped < 0 {
		return fmt.Errorf("test counters must be non-negative (total=%d passed=%d failed=%d skipped=%d)",
			r.Total, r.Passed, r.Failed, r.Skipped)
	}
	if sum := r.Passed + r.Failed + r.Skipped; sum > r.Total {
		return fmt.Errorf("passed+failed+skipped (%d) exceeds total (%d)", sum, r.Total)
	}
	return nil
}

// ErrorEntry is one entry of the workflow's error trail.
type ErrorEntry struct {
	Message   string    `json:"message"`
	Phase     Phase     `json:"phase"`
	TDDPhase  *TDDPhase `json:"tddPhase,omitempty"`
	SubtaskID string    `json:"subtaskId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Progress summarizes how far the workflow has come.
type Progress struct {
	Completed  int `json:"completed"`
	Total      int `json:"total"`
	Current    int `json:"current"`
	Percentage int `json:"percentage"`
}
