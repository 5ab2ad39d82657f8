package workflow

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope carries the storage bookkeeping written next to a snapshot.
type Envelope struct {
	Revision int64     `json:"revision"`
	SavedAt  time.Time `json:"savedAt"`
}

// document is the on-disk shape. Pointer fields detect missing required keys.
type document struct {
	SchemaVersion *int             `json:"schemaVersion"`
	Revision      int64            `json:"revision"`
	SavedAt       *time.Time       `json:"savedAt,omitempty"`
	Phase         *Phase           `json:"phase"`
	TDDPhase      *TDDPhase        `json:"tddPhase"`
	Context       *contextDocument `json:"context"`
}

type contextDocument struct {
	TaskID              *string           `json:"taskId"`
	Subtasks            []SubtaskInfo     `json:"subtasks"`
	CurrentSubtaskIndex *int              `json:"currentSubtaskIndex"`
	BranchName          string            `json:"branchName,omitempty"`
	Errors              []ErrorEntry      `json:"errors"`
	Metadata            map[string]string `json:"metadata"`
	LastTestResult      *TestResult       `json:"lastTestResult"`
}

// EncodeState serializes state with its envelope as indented JSON. Output is
// deterministic for equal inputs.
func EncodeState(state WorkflowState, env Envelope) ([]byte, error) {
	version := state.SchemaVersion
	if version == 0 {
		version = SchemaVersion
	}
	c := state.Context
	errs := c.Errors
	if errs == nil {
		errs = []ErrorEntry{}
	}
	meta := c.Metadata
	if meta == nil {
		meta = map[string]string{}
	}

	doc := document{
		SchemaVersion: &version,
		Revision:      env.Revision,
		Phase:         &state.Phase,
		TDDPhase:      state.TDDPhase,
		Context: &contextDocument{
			TaskID:              &c.TaskID,
			Subtasks:            c.Subtasks,
			CurrentSubtaskIndex: &c.CurrentSubtaskIndex,
			BranchName:          c.BranchName,
			Errors:              errs,
			Metadata:            meta,
			LastTestResult:      c.LastTestResult,
		},
	}
	if !env.SavedAt.IsZero() {
		saved := env.SavedAt.UTC()
		doc.SavedAt = &saved
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding workflow state: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeState parses data produced by EncodeState. Documents from newer schema versions
// are read as long as the known fields are present; unknown fields are ignored. Missing
// required fields or violated invariants return ErrCorruptState.
func DecodeState(data []byte) (WorkflowState, Envelope, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return WorkflowState{}, Envelope{}, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	switch {
	case doc.SchemaVersion == nil:
		return WorkflowState{}, Envelope{}, missingField("schemaVersion")
	case doc.Phase == nil:
		return WorkflowState{}, Envelope{}, missingField("phase")
	case doc.Context == nil:
		return WorkflowState{}, Envelope{}, missingField("context")
	case doc.Context.TaskID == nil:
		return WorkflowState{}, Envelope{}, missingField("context.taskId")
	case doc.Context.Subtasks == nil:
		return WorkflowState{}, Envelope{}, missingField("context.subtasks")
	case doc.Context.CurrentSubtaskIndex == nil:
		return WorkflowState{}, Envelope{}, missingField("context.currentSubtaskIndex")
	}

	c := doc.Context
	state := WorkflowState{
		SchemaVersion: *doc.SchemaVersion,
		Phase:         *doc.Phase,
		TDDPhase:      doc.TDDPhase,
		Context: WorkflowContext{
			TaskID:              *c.TaskID,
			Subtasks:            c.Subtasks,
			CurrentSubtaskIndex: *c.CurrentSubtaskIndex,
			BranchName:          c.BranchName,
			Errors:              c.Errors,
			Metadata:            c.Metadata,
			LastTestResult:      c.LastTestResult,
		},
	}
	if state.Context.Errors == nil {
		state.Context.Errors = []ErrorEntry{}
	}
	if state.Context.Metadata == nil {
		state.Context.Metadata = map[string]string{}
	}
	if err := state.Validate(); err != nil {
		return WorkflowState{}, Envelope{}, err
	}

	env := Envelope{Revision: doc.Revision}
	if doc.SavedAt != nil {
		env.SavedAt = *doc.SavedAt
	}
	return state, env, nil
}

func missingField(name string) error {
	return fmt.Errorf("%w: missing required field %q", ErrCorruptState, name)
}
