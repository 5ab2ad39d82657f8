// Package gitops is the git collaborator of the workflow: repository checks,
// branch creation, staging and commits, implemented with go-git.
package gitops

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotRepository    = errors.New("not a git repository")
	ErrDirtyWorkingTree = errors.New("working tree has uncommitted changes")
	ErrNothingStaged    = errors.New("no staged changes to commit")
	ErrBranchExists     = errors.New("branch already exists")
	ErrNoCommits        = errors.New("repository has no commits")
)

// Client is what the calling layer needs from git. The orchestrator never calls it.
type Client interface {
	EnsureRepository(ctx context.Context) error
	EnsureCleanWorkingTree(ctx context.Context) error
	CreateAndCheckoutBranch(ctx context.Context, name string) error
	StageFiles(ctx context.Context, paths []string) error
	HasStagedChanges(ctx context.Context) (bool, error)
	Status(ctx context.Context) (Status, error)
	CreateCommit(ctx context.Context, message string, meta CommitMetadata) (Commit, error)
	LastCommit(ctx context.Context) (Commit, error)
	ChangedFiles(ctx context.Context) ([]string, error)
	StagedContent(ctx context.Context) ([]StagedFile, error)
}

// Status summarizes the worktree. Paths are relative to the repository root.
type Status struct {
	Branch    string   `json:"branch"`
	Clean     bool     `json:"clean"`
	Staged    []string `json:"staged"`
	Unstaged  []string `json:"unstaged"`
	Untracked []string `json:"untracked"`
}

// CommitMetadata carries the author and workflow identifiers of a commit.
type CommitMetadata struct {
	AuthorName  string
	AuthorEmail string
	TaskID      string
	SubtaskID   string
}

// Commit describes a created or existing commit.
type Commit struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	When    time.Time `json:"when"`
}

// Short returns the abbreviated hash.
func (c Commit) Short() string {
	if len(c.Hash) > 7 {
		return c.Hash[:7]
	}
	return c.Hash
}

// StagedFile is the index content of a staged addition or modification.
type StagedFile struct {
	Path    string
	Content []byte
}
