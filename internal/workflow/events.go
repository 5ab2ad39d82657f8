package workflow

// EventType names a workflow event.
type EventType string

const (
	EventPreflightComplete   EventType = "PREFLIGHT_COMPLETE"
	EventBranchCreated       EventType = "BRANCH_CREATED"
	EventRedPhaseComplete    EventType = "RED_PHASE_COMPLETE"
	EventGreenPhaseComplete  EventType = "GREEN_PHASE_COMPLETE"
	EventCommitComplete      EventType = "COMMIT_COMPLETE"
	EventSubtaskComplete     EventType = "SUBTASK_COMPLETE"
	EventAllSubtasksComplete EventType = "ALL_SUBTASKS_COMPLETE"
	EventFinalizeComplete    EventType = "FINALIZE_COMPLETE"
	EventAbort               EventType = "ABORT"

	// EventRetrySubtask clears the error status of the current subtask so GREEN can be
	// attempted again with a fresh attempt budget.
	EventRetrySubtask EventType = "RETRY_SUBTASK"
)

// Event is one input to the state machine. Only the fields relevant to Type are read.
type Event struct {
	Type       EventType   `json:"type"`
	TestResult *TestResult `json:"testResult,omitempty"`
	BranchName string      `json:"branchName,omitempty"`
	Reason     string      `json:"reason,omitempty"`
}

func PreflightComplete() Event { return Event{Type: EventPreflightComplete} }

func BranchCreated(name string) Event { return Event{Type: EventBranchCreated, BranchName: name} }

func RedPhaseComplete(r TestResult) Event {
	return Event{Type: EventRedPhaseComplete, TestResult: &r}
}

func GreenPhaseComplete(r TestResult) Event {
	return Event{Type: EventGreenPhaseComplete, TestResult: &r}
}

func CommitComplete() Event { return Event{Type: EventCommitComplete} }

func SubtaskComplete() Event { return Event{Type: EventSubtaskComplete} }

func AllSubtasksComplete() Event { return Event{Type: EventAllSubtasksComplete} }

func FinalizeComplete() Event { return Event{Type: EventFinalizeComplete} }

// Abort builds an ABORT event; reason is recorded in the error trail when non-empty.
func Abort(reason string) Event { return Event{Type: EventAbort, Reason: reason} }

func RetrySubtask() Event { return Event{Type: EventRetrySubtask} }
