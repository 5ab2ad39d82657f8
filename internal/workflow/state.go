package workflow

import (
	"fmt"
)

// SchemaVersion is the version written by EncodeState.
const SchemaVersion = 1

// WorkflowState is the serializable snapshot of a workflow. It is the only unit
// written to or read from durable storage.
type WorkflowState struct {
	SchemaVersion int             `json:"schemaVersion"`
	Phase         Phase           `json:"phase"`
	TDDPhase      *TDDPhase       `json:"tddPhase"`
	Context       WorkflowContext `json:"context"`
}

// Clone returns a deep copy of s.
func (s WorkflowState) Clone() WorkflowState {
	out := s
	if s.TDDPhase != nil {
		out.TDDPhase = s.TDDPhase.Ptr()
	}
	out.Context = *s.Context.Clone()
	return out
}

// Validate checks the structural invariants of s. Violations wrap ErrCorruptState.
func (s WorkflowState) Validate() error {
	corrupt := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrCorruptState, fmt.Sprintf(format, args...))
	}

	if s.SchemaVersion < 1 {
		return corrupt("schema version %d is not supported", s.SchemaVersion)
	}
	if !s.Phase.Valid() {
		return corrupt("unknown phase %q", s.Phase)
	}
	if (s.TDDPhase != nil) != (s.Phase == PhaseSubtaskLoop) {
		return corrupt("tdd phase must be set iff phase is %s (phase=%s)", PhaseSubtaskLoop, s.Phase)
	}
	if s.TDDPhase != nil && !s.TDDPhase.Valid() {
		return corrupt("unknown tdd phase %q", *s.TDDPhase)
	}

	c := s.Context
	if c.TaskID == "" {
		return corrupt("context has no task id")
	}
	if len(c.Subtasks) == 0 {
		return corrupt("context has no subtasks")
	}
	if c.CurrentSubtaskIndex < 0 || c.CurrentSubtaskIndex > len(c.Subtasks) {
		return corrupt("current subtask index %d out of range [0,%d]", c.CurrentSubtaskIndex, len(c.Subtasks))
	}

	seen := make(map[string]bool, len(c.Subtasks))
	inProgress := 0
	for i, st := range c.Subtasks {
		if st.ID == "" {
			return corrupt("subtask %d has no id", i)
		}
		if seen[st.ID] {
			return corrupt("duplicate subtask id %q", st.ID)
		}
		seen[st.ID] = true
		if !st.Status.Valid() {
			return corrupt("subtask %s has unknown status %q", st.ID, st.Status)
		}
		if st.MaxAttempts < 1 {
			return corrupt("subtask %s has max attempts %d", st.ID, st.MaxAttempts)
		}
		if st.Attempts < 0 || st.Attempts > st.MaxAttempts {
			return corrupt("subtask %s has attempts %d outside [0,%d]", st.ID, st.Attempts, st.MaxAttempts)
		}
		switch {
		case i < c.CurrentSubtaskIndex && st.Status != SubtaskCompleted:
			return corrupt("subtask %s before the current index is %s", st.ID, st.Status)
		case i > c.CurrentSubtaskIndex && st.Status != SubtaskPending:
			return corrupt("subtask %s after the current index is %s", st.ID, st.Status)
		}
		if st.Status == SubtaskInProgress {
			inProgress++
		}
	}
	if inProgress > 1 {
		return corrupt("%d subtasks are in progress", inProgress)
	}

	return s.validatePhaseShape()
}

// validatePhaseShape checks that the subtask cursor agrees with the phase pair.
func (s WorkflowState) validatePhaseShape() error {
	c := s.Context
	cur, hasCurrent := c.CurrentSubtask()

	switch s.Phase {
	case PhasePreflight, PhaseBranchPending:
		if c.CurrentSubtaskIndex != 0 || cur.Status != SubtaskPending {
			return fmt.Errorf("%w: no subtask may start before %s", ErrCorruptState, PhaseSubtaskLoop)
		}
	case PhaseFinalize, PhaseComplete:
		if hasCurrent {
			return fmt.Errorf("%w: phase %s with subtask %s still open", ErrCorruptState, s.Phase, cur.ID)
		}
	case PhaseSubtaskLoop:
		switch *s.TDDPhase {
		case TDDPhaseRed:
			if !hasCurrent || cur.Status != SubtaskInProgress {
				return fmt.Errorf("%w: RED requires an in-progress subtask", ErrCorruptState)
			}
		case TDDPhaseGreen:
			if !hasCurrent || (cur.Status != SubtaskInProgress && cur.Status != SubtaskError) {
				return fmt.Errorf("%w: GREEN requires an in-progress or errored subtask", ErrCorruptState)
			}
		case TDDPhaseCommit:
			if hasCurrent && cur.Status == SubtaskError {
				return fmt.Errorf("%w: COMMIT with errored subtask %s", ErrCorruptState, cur.ID)
			}
		}
	}

	// Outside GREEN a subtask can only be in error if the workflow was aborted there.
	if hasCurrent && cur.Status == SubtaskError && s.Phase != PhaseAborted &&
		(s.TDDPhase == nil || *s.TDDPhase != TDDPhaseGreen) {
		return fmt.Errorf("%w: subtask %s is in error outside GREEN", ErrCorruptState, cur.ID)
	}
	return nil
}
