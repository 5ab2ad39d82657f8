package workflow

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loopState(t *testing.T) WorkflowState {
	t.Helper()
	orch, _ := newTestOrchestrator(t, 3, 2)
	toLoop(t, orch)
	completeSubtask(t, orch)
	mustTransition(t, orch, RedPhaseComplete(red(1)))
	_, err := orch.Transition(GreenPhaseComplete(green(1)))
	require.ErrorIs(t, err, ErrPhaseValidationFailed)
	return orch.State()
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	state := loopState(t)
	env := Envelope{Revision: 7, SavedAt: fixedNow}

	data, err := EncodeState(state, env)
	require.NoError(t, err)

	got, gotEnv, err := DecodeState(data)
	require.NoError(t, err)
	assert.Equal(t, state, got)
	assert.Equal(t, int64(7), gotEnv.Revision)
	assert.True(t, fixedNow.Equal(gotEnv.SavedAt))

	again, err := EncodeState(got, gotEnv)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again), "encoding is deterministic")
}

func TestEncodeState_Shape(t *testing.T) {
	orch, _ := newTestOrchestrator(t, 1, 3)
	data, err := EncodeState(orch.State(), Envelope{})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.EqualValues(t, SchemaVersion, raw["schemaVersion"])
	assert.Equal(t, "PREFLIGHT", raw["phase"])
	assert.Contains(t, raw, "tddPhase")
	assert.Nil(t, raw["tddPhase"])
	assert.NotContains(t, raw, "savedAt")

	ctx := raw["context"].(map[string]any)
	assert.Equal(t, "7", ctx["taskId"])
	assert.Len(t, ctx["subtasks"], 1)
}

func TestDecodeState_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name  string
		field string
		doc   string
	}{
		{"schema version", "schemaVersion", `{"phase":"PREFLIGHT","context":{"taskId":"1","subtasks":[],"currentSubtaskIndex":0}}`},
		{"phase", "phase", `{"schemaVersion":1,"context":{"taskId":"1","subtasks":[],"currentSubtaskIndex":0}}`},
		{"context", "context", `{"schemaVersion":1,"phase":"PREFLIGHT"}`},
		{"task id", "context.taskId", `{"schemaVersion":1,"phase":"PREFLIGHT","context":{"subtasks":[],"currentSubtaskIndex":0}}`},
		{"subtasks", "context.subtasks", `{"schemaVersion":1,"phase":"PREFLIGHT","context":{"taskId":"1","currentSubtaskIndex":0}}`},
		{"index", "context.currentSubtaskIndex", `{"schemaVersion":1,"phase":"PREFLIGHT","context":{"taskId":"1","subtasks":[]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeState([]byte(tt.doc))
			require.ErrorIs(t, err, ErrCorruptState)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestDecodeState_Garbage(t *testing.T) {
	for _, in := range []string{"", "{", `{"schemaVersion":1,"phase":`, "null", "[]"} {
		_, _, err := DecodeState([]byte(in))
		assert.ErrorIs(t, err, ErrCorruptState, "input %q", in)
	}
}

func TestDecodeState_ForwardCompatible(t *testing.T) {
	state := loopState(t)
	data, err := EncodeState(state, Envelope{Revision: 1})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	raw["schemaVersion"] = SchemaVersion + 1
	raw["lockOwner"] = "someone"
	raw["context"].(map[string]any)["labels"] = []string{"x"}
	future, err := json.Marshal(raw)
	require.NoError(t, err)

	got, _, err := DecodeState(future)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion+1, got.SchemaVersion)
	assert.Equal(t, state.Context.Subtasks, got.Context.Subtasks)
}

func TestDecodeState_InvariantViolation(t *testing.T) {
	state := loopState(t)
	state.Context.Subtasks[2].Status = SubtaskInProgress
	data, err := EncodeState(state, Envelope{})
	require.NoError(t, err)

	_, _, err = DecodeState(data)
	assert.ErrorIs(t, err, ErrCorruptState)
}

func TestDecodeState_FillsEmptyCollections(t *testing.T) {
	doc := `{"schemaVersion":1,"phase":"PREFLIGHT","tddPhase":null,"context":{"taskId":"1",` +
		`"subtasks":[{"id":"1.1","title":"a","status":"pending","attempts":0,"maxAttempts":3}],` +
		`"currentSubtaskIndex":0}}`
	got, env, err := DecodeState([]byte(doc))
	require.NoError(t, err)
	assert.NotNil(t, got.Context.Errors)
	assert.NotNil(t, got.Context.Metadata)
	assert.Equal(t, time.Time{}, env.SavedAt)
}
