package workflow

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// PersistFunc receives a snapshot after every successful mutation. It is the only I/O
// seam of the Orchestrator.
type PersistFunc func(WorkflowState) error

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the clock used for error trail timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithGate replaces the gate used for a TDD phase.
func WithGate(phase TDDPhase, gate PhaseGate) Option {
	return func(o *Orchestrator) {
		o.gates[phase] = gate
	}
}

// Orchestrator is the workflow state machine. It processes one event at a time.
type Orchestrator struct {
	mu      sync.Mutex
	state   WorkflowState
	persist PersistFunc
	gates   map[TDDPhase]PhaseGate
	now     func() time.Time
}

func newOrchestrator(opts []Option) *Orchestrator {
	o := &Orchestrator{
		gates: map[TDDPhase]PhaseGate{
			TDDPhaseRed:   NewRedGate(),
			TDDPhaseGreen: NewGreenGate(),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// New creates an Orchestrator in PREFLIGHT for a freshly built context.
func New(wctx *WorkflowContext, opts ...Option) (*Orchestrator, error) {
	if wctx == nil {
		return nil, fmt.Errorf("%w: context is nil", ErrInvalidContext)
	}
	state := WorkflowState{
		SchemaVersion: SchemaVersion,
		Phase:         PhasePreflight,
		Context:       *wctx.Clone(),
	}
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContext, err)
	}
	o := newOrchestrator(opts)
	o.state = state
	return o, nil
}

// Restore creates an Orchestrator from a previously persisted snapshot.
func Restore(state WorkflowState, opts ...Option) (*Orchestrator, error) {
	o := newOrchestrator(opts)
	if err := o.RestoreState(state); err != nil {
		return nil, err
	}
	return o, nil
}

// RestoreState replaces the internal state wholesale. Snapshots that violate the
// workflow invariants are rejected with ErrCorruptState.
func (o *Orchestrator) RestoreState(state WorkflowState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = state.Clone()
	return nil
}

// EnableAutoPersist registers hook to run after every successful transition.
func (o *Orchestrator) EnableAutoPersist(hook PersistFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.persist = hook
}

// DisableAutoPersist removes the persistence hook.
func (o *Orchestrator) DisableAutoPersist() {
	o.EnableAutoPersist(nil)
}

// Transition applies ev and returns the resulting snapshot.
//
// Illegal events return ErrInvalidTransition and leave the state untouched. Gate
// rejections return ErrPhaseValidationFailed or ErrMaxAttemptsExceeded; a failing GREEN
// result still records the consumed attempt. When the persistence hook fails the new
// state is kept in memory but the call reports ErrPersistenceFailure.
func (o *Orchestrator) Transition(ev Event) (WorkflowState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	fn, ok := lookupTransition(o.state, ev.Type)
	if !ok {
		return o.state.Clone(), fmt.Errorf("%w: %s not allowed in %s", ErrInvalidTransition, ev.Type, o.describe())
	}

	next := o.state.Clone()
	changed, gateErr := fn(o, &next, ev)
	if !changed {
		return o.state.Clone(), gateErr
	}
	o.state = next

	if o.persist != nil {
		if err := o.persist(o.state.Clone()); err != nil {
			return o.state.Clone(), errors.Join(gateErr, fmt.Errorf("%w: %w", ErrPersistenceFailure, err))
		}
	}
	return o.state.Clone(), gateErr
}

// CanTransition reports whether an event of type ev is legal for the current phase
// pair. Guards that depend on event payloads are not evaluated.
func (o *Orchestrator) CanTransition(ev EventType) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := lookupTransition(o.state, ev)
	return ok
}

// State returns a deep copy of the current snapshot.
func (o *Orchestrator) State() WorkflowState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Clone()
}

// Context returns a deep copy of the workflow context.
func (o *Orchestrator) Context() *WorkflowContext {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Context.Clone()
}

// CurrentPhase returns the top-level phase.
func (o *Orchestrator) CurrentPhase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Phase
}

// CurrentTDDPhase returns the nested TDD phase, or false outside SUBTASK_LOOP.
func (o *Orchestrator) CurrentTDDPhase() (TDDPhase, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.TDDPhase == nil {
		return "", false
	}
	return *o.state.TDDPhase, true
}

// CurrentSubtask returns the active subtask, or false once all subtasks are committed.
func (o *Orchestrator) CurrentSubtask() (SubtaskInfo, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Context.CurrentSubtask()
}

// Progress returns completion counts for the workflow.
func (o *Orchestrator) Progress() Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Context.Progress()
}

func (o *Orchestrator) describe() string {
	if o.state.TDDPhase != nil {
		return fmt.Sprintf("%s/%s", o.state.Phase, *o.state.TDDPhase)
	}
	return string(o.state.Phase)
}

func (o *Orchestrator) errorEntry(s *WorkflowState, msg string) ErrorEntry {
	entry := ErrorEntry{
		Message:   msg,
		Phase:     s.Phase,
		Timestamp: o.now(),
	}
	if s.TDDPhase != nil {
		entry.TDDPhase = s.TDDPhase.Ptr()
	}
	if cur, ok := s.Context.CurrentSubtask(); ok {
		entry.SubtaskID = cur.ID
	}
	return entry
}
