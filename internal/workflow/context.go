package workflow

import (
	"fmt"
	"maps"
	"time"
)

const (
	// DefaultMaxAttempts is used when no explicit limit is configured.
	DefaultMaxAttempts = 3

	// MaxErrorEntries bounds the error trail; older entries are dropped first.
	MaxErrorEntries = 100
)

// Metadata keys written by autopilot.
const (
	MetaRunID       = "runId"
	MetaStartedAt   = "startedAt"
	MetaTag         = "tag"
	MetaOrgSlug     = "orgSlug"
	MetaProjectRoot = "projectRoot"
	MetaTaskTitle   = "taskTitle"

	// metaRedSatisfiedPrefix is suffixed with a subtask id.
	metaRedSatisfiedPrefix = "redAlreadySatisfied:"
)

// RedAlreadySatisfiedKey returns the metadata key recording that the RED step of
// subtaskID was closed by a result without failures.
func RedAlreadySatisfiedKey(subtaskID string) string {
	return metaRedSatisfiedPrefix + subtaskID
}

// WorkflowContext is the mutable record of one workflow run. It is only changed
// through Orchestrator transitions.
type WorkflowContext struct {
	TaskID              string            `json:"taskId"`
	Subtasks            []SubtaskInfo     `json:"subtasks"`
	CurrentSubtaskIndex int               `json:"currentSubtaskIndex"`
	BranchName          string            `json:"branchName,omitempty"`
	Errors              []ErrorEntry      `json:"errors"`
	Metadata            map[string]string `json:"metadata"`
	LastTestResult      *TestResult       `json:"lastTestResult"`
}

// ContextOption configures NewContext.
type ContextOption func(*contextOptions)

type contextOptions struct {
	maxAttempts int
	metadata    map[string]string
	startedAt   time.Time
}

// WithMaxAttempts sets the GREEN attempt limit applied to every subtask.
func WithMaxAttempts(n int) ContextOption {
	return func(o *contextOptions) {
		o.maxAttempts = n
	}
}

// WithMetadata adds a metadata entry to the new context.
func WithMetadata(key, value string) ContextOption {
	return func(o *contextOptions) {
		o.metadata[key] = value
	}
}

// WithStartedAt overrides the recorded start time.
func WithStartedAt(t time.Time) ContextOption {
	return func(o *contextOptions) {
		o.startedAt = t
	}
}

// NewContext creates the context for a fresh workflow. Every subtask is reset to
// pending with zero attempts.
func NewContext(taskID string, subtasks []SubtaskInfo, opts ...ContextOption) (*WorkflowContext, error) {
	o := &contextOptions{
		maxAttempts: DefaultMaxAttempts,
		metadata:    make(map[string]string),
		startedAt:   time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if taskID == "" {
		return nil, fmt.Errorf("%w: task id is required", ErrInvalidContext)
	}
	if len(subtasks) == 0 {
		return nil, fmt.Errorf("%w: task %s has no subtasks", ErrInvalidContext, taskID)
	}
	if o.maxAttempts < 1 {
		return nil, fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidContext, o.maxAttempts)
	}

	seen := make(map[string]bool, len(subtasks))
	list := make([]SubtaskInfo, len(subtasks))
	for i, st := range subtasks {
		if st.ID == "" {
			return nil, fmt.Errorf("%w: subtask %d has no id", ErrInvalidContext, i)
		}
		if seen[st.ID] {
			return nil, fmt.Errorf("%w: duplicate subtask id %q", ErrInvalidContext, st.ID)
		}
		seen[st.ID] = true
		list[i] = SubtaskInfo{
			ID:          st.ID,
			Title:       st.Title,
			Status:      SubtaskPending,
			Attempts:    0,
			MaxAttempts: o.maxAttempts,
		}
	}

	if _, ok := o.metadata[MetaStartedAt]; !ok {
		o.metadata[MetaStartedAt] = o.startedAt.Format(time.RFC3339)
	}

	return &WorkflowContext{
		TaskID:   taskID,
		Subtasks: list,
		Errors:   []ErrorEntry{},
		Metadata: o.metadata,
	}, nil
}

// Clone returns a deep copy of c.
func (c *WorkflowContext) Clone() *WorkflowContext {
	if c == nil {
		return nil
	}
	out := *c
	out.Subtasks = append([]SubtaskInfo(nil), c.Subtasks...)
	out.Errors = make([]ErrorEntry, len(c.Errors))
	for i, e := range c.Errors {
		if e.TDDPhase != nil {
			e.TDDPhase = e.TDDPhase.Ptr()
		}
		out.Errors[i] = e
	}
	out.Metadata = maps.Clone(c.Metadata)
	if out.Metadata == nil {
		out.Metadata = make(map[string]string)
	}
	if c.LastTestResult != nil {
		r := *c.LastTestResult
		out.LastTestResult = &r
	}
	return &out
}

// CurrentSubtask returns the subtask at the current index, or false once every
// subtask has been committed.
func (c *WorkflowContext) CurrentSubtask() (SubtaskInfo, bool) {
	if c.CurrentSubtaskIndex < 0 || c.CurrentSubtaskIndex >= len(c.Subtasks) {
		return SubtaskInfo{}, false
	}
	return c.Subtasks[c.CurrentSubtaskIndex], true
}

// Progress counts completed subtasks against the total.
func (c *WorkflowContext) Progress() Progress {
	p := Progress{
		Total:   len(c.Subtasks),
		Current: c.CurrentSubtaskIndex,
	}
	for _, st := range c.Subtasks {
		if st.Status == SubtaskCompleted {
			p.Completed++
		}
	}
	if p.Total > 0 {
		p.Percentage = p.Completed * 100 / p.Total
	}
	return p
}

// current returns a pointer into the subtask list, or nil when the index is past the end.
func (c *WorkflowContext) current() *SubtaskInfo {
	if c.CurrentSubtaskIndex < 0 || c.CurrentSubtaskIndex >= len(c.Subtasks) {
		return nil
	}
	return &c.Subtasks[c.CurrentSubtaskIndex]
}

func (c *WorkflowContext) appendError(entry ErrorEntry) {
	c.Errors = append(c.Errors, entry)
	if over := len(c.Errors) - MaxErrorEntries; over > 0 {
		c.Errors = append([]ErrorEntry(nil), c.Errors[over:]...)
	}
}
