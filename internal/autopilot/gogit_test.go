package autopilot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/autopilot/internal/config"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
)

const tasksJSON = `{
  "master": {
    "tasks": [
      {"id": 3, "title": "Greeting API", "subtasks": [
        {"id": 1, "title": "hello handler"}
      ]}
    ]
  }
}`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// TestService_GoGitRepository runs a workflow against a real repository, task
// file and state file.
func TestService_GoGitRepository(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: "refs/heads/main"},
	})
	require.NoError(t, err)
	writeFile(t, dir, ".taskmaster/tasks/tasks.json", tasksJSON)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(".taskmaster/tasks/tasks.json")
	require.NoError(t, err)
	_, err = wt.Commit("add tasks", &git.CommitOptions{
		Author: &object.Signature{Name: "Init", Email: "init@example.com", When: testNow},
	})
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Git.AuthorName = "Autopilot"
	cfg.Git.AuthorEmail = "autopilot@example.com"
	svc, err := New(cfg, nil, WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)

	st, err := svc.Start(ctx, StartRequest{ProjectRoot: dir, TaskID: "3"})
	require.NoError(t, err)
	assert.Equal(t, "autopilot/task-3-greeting-api", st.Branch)
	assert.Equal(t, "3.1", st.CurrentSubtask.ID)
	assert.FileExists(t, filepath.Join(dir, ".autopilot", "workflow-state.json"))

	head, err := repo.Head()
	require.NoError(t, err)
	assert.Equal(t, "refs/heads/autopilot/task-3-greeting-api", head.Name().String())

	_, err = svc.Complete(ctx, dir, TestCounts{Total: 1, Failed: 1})
	require.NoError(t, err)
	_, err = svc.Complete(ctx, dir, TestCounts{Total: 1, Passed: 1})
	require.NoError(t, err)

	writeFile(t, dir, "api/hello.go", "package api\n")
	writeFile(t, dir, "api/hello_test.go", "package api\n")
	res, err := svc.Commit(ctx, CommitRequest{ProjectRoot: dir})
	require.NoError(t, err)
	require.NotNil(t, res.Commit)
	assert.Equal(t, workflow.PhaseFinalize, res.Status.Phase)

	head, err = repo.Head()
	require.NoError(t, err)
	commit, err := repo.CommitObject(head.Hash())
	require.NoError(t, err)
	assert.Equal(t, res.Commit.Hash, head.Hash().String())
	assert.Contains(t, commit.Message, "feat(api): hello handler")
	assert.Equal(t, "Autopilot", commit.Author.Name)

	st, err = svc.Finalize(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, workflow.PhaseComplete, st.Phase)
	assert.NoFileExists(t, filepath.Join(dir, ".autopilot", "workflow-state.json"))
}

