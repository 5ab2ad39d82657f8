package gitops

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
)

var testNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// newRepo creates a repository with one commit on main.
func newRepo(t *testing.T) (string, *GoGitClient) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: "refs/heads/main"},
	})
	require.NoError(t, err)
	write(t, dir, "README.md", "# demo\n")
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "Init", Email: "init@example.com", When: testNow},
	})
	require.NoError(t, err)

	return dir, NewGoGitClient(dir, Options{
		AuthorName:  "Test Author",
		AuthorEmail: "test@example.com",
		Ignore:      []string{".autopilot"},
		Now:         func() time.Time { return testNow },
	})
}

func TestEnsureRepository(t *testing.T) {
	ctx := context.Background()
	dir, c := newRepo(t)
	assert.NoError(t, c.EnsureRepository(ctx))

	// nested directories find the parent repository
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pkg", "sub"), 0o755))
	assert.NoError(t, NewGoGitClient(filepath.Join(dir, "pkg", "sub"), Options{}).EnsureRepository(ctx))

	err := NewGoGitClient(t.TempDir(), Options{}).EnsureRepository(ctx)
	assert.ErrorIs(t, err, ErrNotRepository)
}

func TestEnsureCleanWorkingTree(t *testing.T) {
	ctx := context.Background()
	dir, c := newRepo(t)
	require.NoError(t, c.EnsureCleanWorkingTree(ctx))

	// the state directory never dirties the tree
	write(t, dir, ".autopilot/workflow-state.json", "{}")
	require.NoError(t, c.EnsureCleanWorkingTree(ctx))

	write(t, dir, "main.go", "package main\n")
	assert.ErrorIs(t, c.EnsureCleanWorkingTree(ctx), ErrDirtyWorkingTree)
}

func TestCreateAndCheckoutBranch(t *testing.T) {
	ctx := context.Background()
	dir, c := newRepo(t)
	write(t, dir, "wip.go", "package wip\n")

	require.NoError(t, c.CreateAndCheckoutBranch(ctx, "autopilot/task-1-demo"))
	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "autopilot/task-1-demo", st.Branch)
	assert.Equal(t, []string{"wip.go"}, st.Untracked, "local changes are kept")

	err = c.CreateAndCheckoutBranch(ctx, "autopilot/task-1-demo")
	assert.ErrorIs(t, err, ErrBranchExists)

	assert.Error(t, c.CreateAndCheckoutBranch(ctx, "bad..name"))
}

func TestStageAndCommit(t *testing.T) {
	ctx := context.Background()
	dir, c := newRepo(t)

	_, err := c.CreateCommit(ctx, "feat: nothing", CommitMetadata{})
	assert.ErrorIs(t, err, ErrNothingStaged)

	write(t, dir, "calc/add.go", "package calc\n")
	write(t, dir, "calc/add_test.go", "package calc\n")
	write(t, dir, "README.md", "# demo\nupdated\n")

	changed, err := c.ChangedFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md", "calc/add.go", "calc/add_test.go"}, changed)

	require.NoError(t, c.StageFiles(ctx, []string{filepath.Join(dir, "calc/add.go"), "calc/add_test.go"}))
	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"calc/add.go", "calc/add_test.go"}, st.Staged)
	assert.Equal(t, []string{"README.md"}, st.Unstaged)

	staged, err := c.HasStagedChanges(ctx)
	require.NoError(t, err)
	assert.True(t, staged)

	commit, err := c.CreateCommit(ctx, "feat(calc): add\n", CommitMetadata{TaskID: "1"})
	require.NoError(t, err)
	assert.Len(t, commit.Hash, 40)
	assert.Len(t, commit.Short(), 7)
	assert.Equal(t, "Test Author <test@example.com>", commit.Author)
	assert.True(t, testNow.Equal(commit.When))

	last, err := c.LastCommit(ctx)
	require.NoError(t, err)
	assert.Equal(t, commit.Hash, last.Hash)
	assert.Equal(t, "feat(calc): add\n", last.Message)
}

func TestStageFiles_AllChangesAndDeletions(t *testing.T) {
	ctx := context.Background()
	dir, c := newRepo(t)
	write(t, dir, "new.txt", "hello")
	require.NoError(t, os.Remove(filepath.Join(dir, "README.md")))
	write(t, dir, ".autopilot/workflow-state.json", "{}")

	require.NoError(t, c.StageFiles(ctx, nil))
	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md", "new.txt"}, st.Staged)
	assert.Empty(t, st.Untracked)

	assert.Error(t, c.StageFiles(ctx, []string{"../outside.txt"}))
}

func TestStagedContent(t *testing.T) {
	ctx := context.Background()
	dir, c := newRepo(t)
	write(t, dir, "config.yaml", "token: abc\n")
	require.NoError(t, c.StageFiles(ctx, []string{"config.yaml"}))

	// later edits do not change what is staged
	write(t, dir, "config.yaml", "token: changed\n")

	files, err := c.StagedContent(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "config.yaml", files[0].Path)
	assert.Equal(t, "token: abc\n", string(files[0].Content))
}

func TestLastCommit_Empty(t *testing.T) {
	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	c := NewGoGitClient(dir, Options{})

	_, err = c.LastCommit(context.Background())
	assert.ErrorIs(t, err, ErrNoCommits)

	// a branch can be created before the first commit
	require.NoError(t, c.CreateAndCheckoutBranch(context.Background(), "autopilot/task-2-x"))
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "autopilot/task-2-x", st.Branch)
}
