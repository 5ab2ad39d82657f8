package tasks

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/autopilot/internal/workflow"
)

const root = "/repo"

const taggedJSON = `{
  "master": {
    "tasks": [
      {"id": 1, "title": "Bootstrap", "status": "done", "subtasks": []},
      {"id": 2, "title": "Parse config", "description": "koanf loader", "status": "pending",
       "subtasks": [
         {"id": 1, "title": "Read file", "status": "pending"},
         {"id": 2, "title": "Apply env", "status": "done"},
         {"id": "2.3", "title": "Validate"}
       ]}
    ]
  },
  "feature-x": {"tasks": [{"id": "9", "title": "Other", "subtasks": [{"id": 1, "title": "a"}]}]}
}`

func writeFile(t *testing.T, fsys afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fsys, path, []byte(content), 0o644))
}

func TestFileSource_TaggedJSON(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, root+"/"+DefaultTasksFile, taggedJSON)

	src := NewFileSource(fsys, root, "", "")
	task, err := src.GetTask(context.Background(), "2")
	require.NoError(t, err)

	assert.Equal(t, "2", task.ID)
	assert.Equal(t, "Parse config", task.Title)
	assert.Equal(t, "koanf loader", task.Description)
	require.Len(t, task.Subtasks, 3)
	assert.Equal(t, "2.1", task.Subtasks[0].ID)
	assert.Equal(t, "2.2", task.Subtasks[1].ID)
	assert.Equal(t, "done", task.Subtasks[1].Status)
	assert.Equal(t, "2.3", task.Subtasks[2].ID)

	other, err := NewFileSource(fsys, root, "", "feature-x").GetTask(context.Background(), "9")
	require.NoError(t, err)
	assert.Equal(t, "9.1", other.Subtasks[0].ID)
}

func TestFileSource_FlatYAML(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, root+"/tasks.yaml", `
tasks:
  - id: 5
    title: Render output
    subtasks:
      - id: 1
        title: Table view
      - id: 2
        title: JSON view
`)
	task, err := NewFileSource(fsys, root, "tasks.yaml", "").GetTask(context.Background(), "5")
	require.NoError(t, err)
	assert.Equal(t, []Subtask{{ID: "5.1", Title: "Table view"}, {ID: "5.2", Title: "JSON view"}}, task.Subtasks)
}

func TestFileSource_Errors(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()

	_, err := NewFileSource(fsys, root, "", "").GetTask(ctx, "1")
	assert.ErrorIs(t, err, ErrTaskNotFound, "missing file")

	writeFile(t, fsys, root+"/"+DefaultTasksFile, taggedJSON)
	_, err = NewFileSource(fsys, root, "", "").GetTask(ctx, "42")
	assert.ErrorIs(t, err, ErrTaskNotFound, "unknown id")

	_, err = NewFileSource(fsys, root, "", "nope").GetTask(ctx, "2")
	assert.ErrorIs(t, err, ErrTaskNotFound, "unknown tag")

	writeFile(t, fsys, root+"/bad.json", `{"tasks": [`)
	_, err = NewFileSource(fsys, root, "bad.json", "").GetTask(ctx, "1")
	assert.ErrorIs(t, err, ErrInvalidTask)

	writeFile(t, fsys, root+"/untitled.json", `{"tasks": [{"id": 1, "subtasks": []}]}`)
	_, err = NewFileSource(fsys, root, "untitled.json", "").GetTask(ctx, "1")
	assert.ErrorIs(t, err, ErrInvalidTask)
}

func TestTask_Subtasks(t *testing.T) {
	task := &Task{ID: "2", Subtasks: []Subtask{
		{ID: "2.1", Title: " Read file ", Status: "done"},
		{ID: "2.2", Title: "Apply env"},
	}}
	got, err := task.WorkflowSubtasks()
	require.NoError(t, err)
	assert.Equal(t, []workflow.SubtaskInfo{
		{ID: "2.1", Title: "Read file", Status: workflow.SubtaskPending},
		{ID: "2.2", Title: "Apply env", Status: workflow.SubtaskPending},
	}, got)

	// the adapted list seeds a valid context
	_, err = workflow.NewContext(task.ID, got)
	assert.NoError(t, err)
}

func TestTask_SubtasksRejects(t *testing.T) {
	tests := []struct {
		name string
		task *Task
	}{
		{"nil", nil},
		{"empty", &Task{ID: "1"}},
		{"missing id", &Task{ID: "1", Subtasks: []Subtask{{Title: "x"}}}},
		{"missing title", &Task{ID: "1", Subtasks: []Subtask{{ID: "1.1"}}}},
		{"duplicate", &Task{ID: "1", Subtasks: []Subtask{{ID: "1.1", Title: "a"}, {ID: "1.1", Title: "b"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.task.WorkflowSubtasks()
			assert.ErrorIs(t, err, ErrInvalidTask)
		})
	}
}
