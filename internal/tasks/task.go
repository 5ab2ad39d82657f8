// Package tasks reads the task a workflow is started for.
//
// Task sources hand back loosely typed records (Taskmaster JSON or YAML files,
// GitHub issue bodies). They are adapted into Task values here and turned into
// validated workflow subtasks by Subtasks before anything reaches the orchestrator.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/autopilot/internal/workflow"
)

var (
	// ErrTaskNotFound indicates the source has no task with the requested id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidTask indicates a task record that cannot seed a workflow.
	ErrInvalidTask = errors.New("invalid task")
)

// Source fetches tasks by id.
type Source interface {
	GetTask(ctx context.Context, id string) (*Task, error)
}

// Task is a unit of work made of ordered subtasks.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status,omitempty"`
	Subtasks    []Subtask `json:"subtasks"`
}

// Subtask is one entry of a task's subtask list as reported by the source.
type Subtask struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status,omitempty"`
}

// WorkflowSubtasks converts the task's subtasks into workflow subtasks. Ids must be
// present and unique and titles non-empty.
func (t *Task) WorkflowSubtasks() ([]workflow.SubtaskInfo, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil task", ErrInvalidTask)
	}
	if len(t.Subtasks) == 0 {
		return nil, fmt.Errorf("%w: task %s has no subtasks", ErrInvalidTask, t.ID)
	}
	seen := make(map[string]struct{}, len(t.Subtasks))
	out := make([]workflow.SubtaskInfo, 0, len(t.Subtasks))
	for i, st := range t.Subtasks {
		id := strings.TrimSpace(st.ID)
		title := strings.TrimSpace(st.Title)
		switch {
		case id == "":
			return nil, fmt.Errorf("%w: subtask %d of task %s has no id", ErrInvalidTask, i+1, t.ID)
		case title == "":
			return nil, fmt.Errorf("%w: subtask %s has no title", ErrInvalidTask, id)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate subtask id %s", ErrInvalidTask, id)
		}
		seen[id] = struct{}{}
		out = append(out, workflow.SubtaskInfo{ID: id, Title: title, Status: workflow.SubtaskPending})
	}
	return out, nil
}
