package autopilot

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/autopilot/internal/config"
	"github.com/fyrsmithlabs/autopilot/internal/gitops"
	"github.com/fyrsmithlabs/autopilot/internal/logging"
	"github.com/fyrsmithlabs/autopilot/internal/tasks"
)

const testRoot = "/work/project"

var testNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

// fakeGit is an in-memory repository.
type fakeGit struct {
	mu       sync.Mutex
	repo     bool
	branch   string
	branches map[string]bool
	changed  map[string][]byte
	staged   map[string][]byte
	commits  []gitops.Commit
	metas    []gitops.CommitMetadata
}

func newFakeGit() *fakeGit {
	return &fakeGit{
		repo:     true,
		branch:   "main",
		branches: map[string]bool{"main": true},
		changed:  map[string][]byte{},
		staged:   map[string][]byte{},
	}
}

func (g *fakeGit) write(path, content string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.changed[path] = []byte(content)
}

func (g *fakeGit) EnsureRepository(context.Context) error {
	if !g.repo {
		return gitops.ErrNotRepository
	}
	return nil
}

func (g *fakeGit) EnsureCleanWorkingTree(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.changed) > 0 || len(g.staged) > 0 {
		return fmt.Errorf("%w: %d changed files", gitops.ErrDirtyWorkingTree, len(g.changed)+len(g.staged))
	}
	return nil
}

func (g *fakeGit) CreateAndCheckoutBranch(_ context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.branches[name] {
		return fmt.Errorf("%w: %s", gitops.ErrBranchExists, name)
	}
	g.branches[name] = true
	g.branch = name
	return nil
}

func (g *fakeGit) StageFiles(_ context.Context, paths []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range paths {
		content, ok := g.changed[p]
		if !ok {
			return fmt.Errorf("pathspec %q did not match any files", p)
		}
		g.staged[p] = content
		delete(g.changed, p)
	}
	return nil
}

func (g *fakeGit) HasStagedChanges(context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.staged) > 0, nil
}

func (g *fakeGit) Status(context.Context) (gitops.Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return gitops.Status{
		Branch:   g.branch,
		Clean:    len(g.changed) == 0 && len(g.staged) == 0,
		Staged:   sortedKeys(g.staged),
		Unstaged: sortedKeys(g.changed),
	}, nil
}

func (g *fakeGit) CreateCommit(_ context.Context, message string, meta gitops.CommitMetadata) (gitops.Commit, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.staged) == 0 {
		return gitops.Commit{}, gitops.ErrNothingStaged
	}
	c := gitops.Commit{
		Hash:    fmt.Sprintf("%040x", len(g.commits)+1),
		Message: message,
		Author:  meta.AuthorName,
		When:    testNow,
	}
	g.commits = append(g.commits, c)
	g.metas = append(g.metas, meta)
	g.staged = map[string][]byte{}
	return c, nil
}

func (g *fakeGit) LastCommit(context.Context) (gitops.Commit, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.commits) == 0 {
		return gitops.Commit{}, gitops.ErrNoCommits
	}
	return g.commits[len(g.commits)-1], nil
}

func (g *fakeGit) ChangedFiles(context.Context) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return sortedKeys(g.changed), nil
}

func (g *fakeGit) StagedContent(context.Context) ([]gitops.StagedFile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]gitops.StagedFile, 0, len(g.staged))
	for _, p := range sortedKeys(g.staged) {
		out = append(out, gitops.StagedFile{Path: p, Content: g.staged[p]})
	}
	return out, nil
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type fakeSource map[string]*tasks.Task

func (s fakeSource) GetTask(_ context.Context, id string) (*tasks.Task, error) {
	t, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", tasks.ErrTaskNotFound, id)
	}
	return t, nil
}

func defaultTasks() fakeSource {
	return fakeSource{
		"7": {
			ID:    "7",
			Title: "Parse Config Files",
			Subtasks: []tasks.Subtask{
				{ID: "7.1", Title: "read yaml"},
				{ID: "7.2", Title: "merge env overrides"},
			},
		},
	}
}

type harness struct {
	svc *Service
	git *fakeGit
	fs  afero.Fs
	log *logging.TestLogger
}

func newHarness(t *testing.T, mutate func(*config.Config), opts ...Option) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Git.AuthorName = "Autopilot Test"
	cfg.Git.AuthorEmail = "autopilot@example.com"
	if mutate != nil {
		mutate(cfg)
	}
	h := &harness{git: newFakeGit(), fs: afero.NewMemMapFs(), log: logging.NewTestLogger()}
	src := defaultTasks()

	base := []Option{
		WithFilesystem(h.fs),
		WithTaskSource(func(context.Context, string, string) (tasks.Source, error) { return src, nil }),
		WithGit(func(string) (gitops.Client, error) { return h.git, nil }),
		WithClock(func() time.Time { return testNow }),
		WithRunIDs(func() string { return "run-1" }),
	}
	svc, err := New(cfg, h.log.Logger, append(base, opts...)...)
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) start(t *testing.T) *Status {
	t.Helper()
	st, err := h.svc.Start(context.Background(), StartRequest{ProjectRoot: testRoot, TaskID: "7"})
	require.NoError(t, err)
	return st
}

func (h *harness) complete(t *testing.T, counts TestCounts) *Status {
	t.Helper()
	st, err := h.svc.Complete(context.Background(), testRoot, counts)
	require.NoError(t, err)
	return st
}

// toCommit runs the current subtask through RED and GREEN and leaves a change to commit.
func (h *harness) toCommit(t *testing.T, file string) {
	t.Helper()
	h.complete(t, TestCounts{Total: 2, Passed: 1, Failed: 1})
	h.complete(t, TestCounts{Total: 2, Passed: 2})
	h.git.write(file, "package config\n")
}
