package workflow

import "fmt"

// GateOutcome is the verdict of a phase gate.
type GateOutcome string

const (
	// GateAccept closes the phase.
	GateAccept GateOutcome = "accept"

	// GateAlreadySatisfied closes the phase although the result did not show the
	// expected signal (a RED run without failures).
	GateAlreadySatisfied GateOutcome = "already-satisfied"

	// GateReject keeps the phase open.
	GateReject GateOutcome = "reject"
)

// GateDecision is returned by every gate.
type GateDecision struct {
	Outcome GateOutcome `json:"outcome"`
	Reason  string      `json:"reason,omitempty"`
}

// Accepted reports whether the decision closes the phase.
func (d GateDecision) Accepted() bool {
	return d.Outcome == GateAccept || d.Outcome == GateAlreadySatisfied
}

func accept() GateDecision { return GateDecision{Outcome: GateAccept} }

func reject(format string, args ...any) GateDecision {
	return GateDecision{Outcome: GateReject, Reason: fmt.Sprintf(format, args...)}
}

// PhaseGate validates the test result that closes a TDD phase. Gates are pure: they
// never mutate the workflow.
type PhaseGate interface {
	// Name returns the gate identifier
	Name() string

	// Check decides whether result closes the phase
	Check(result TestResult) GateDecision
}

// RedGate requires a failing test before implementation starts.
type RedGate struct{}

// NewRedGate creates the RED phase gate
func NewRedGate() *RedGate {
	return &RedGate{}
}

// Name returns the gate identifier
func (g *RedGate) Name() string {
	return "red-phase"
}

// Check accepts results with failures. A run without failures means the behaviour
// already exists, which is reported as GateAlreadySatisfied.
func (g *RedGate) Check(result TestResult) GateDecision {
	if err := result.Validate(); err != nil {
		return reject("%v", err)
	}
	if result.Phase != TDDPhaseRed {
		return reject("expected a %s test result, got %q", TDDPhaseRed, result.Phase)
	}
	if result.Failed == 0 {
		return GateDecision{
			Outcome: GateAlreadySatisfied,
			Reason:  "no failing tests: behaviour is already implemented",
		}
	}
	return accept()
}

// GreenGate requires every test to pass.
type GreenGate struct{}

// NewGreenGate creates the GREEN phase gate
func NewGreenGate() *GreenGate {
	return &GreenGate{}
}

// Name returns the gate identifier
func (g *GreenGate) Name() string {
	return "green-phase"
}

// Check accepts results without failures. Attempt accounting is left to the
// orchestrator.
func (g *GreenGate) Check(result TestResult) GateDecision {
	if err := result.Validate(); err != nil {
		return reject("%v", err)
	}
	if result.Phase != TDDPhaseGreen {
		return reject("expected a %s test result, got %q", TDDPhaseGreen, result.Phase)
	}
	if result.Failed > 0 {
		return reject("%d of %d tests still failing", result.Failed, result.Total)
	}
	return accept()
}

// CheckCommit accepts a COMMIT_COMPLETE when there is an in-progress current subtask.
func CheckCommit(c *WorkflowContext) GateDecision {
	cur := c.current()
	if cur == nil {
		return reject("no current subtask to commit")
	}
	if cur.Status != SubtaskInProgress {
		return reject("subtask %s is %s, not %s", cur.ID, cur.Status, SubtaskInProgress)
	}
	return accept()
}
