package gitops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const maxStagedFileSize = 1 << 20

// Options configures a GoGitClient.
type Options struct {
	// AuthorName and AuthorEmail override the git config identity.
	AuthorName  string
	AuthorEmail string

	// Ignore lists repository-relative path prefixes that never count as changes,
	// such as the workflow state directory.
	Ignore []string

	Now func() time.Time
}

// GoGitClient implements Client on top of go-git. The repository is opened on
// first use, searching parent directories for .git.
type GoGitClient struct {
	root string
	opts Options

	mu   sync.Mutex
	repo *git.Repository
}

var _ Client = (*GoGitClient)(nil)

// NewGoGitClient returns a client for the repository containing projectRoot.
func NewGoGitClient(projectRoot string, opts Options) *GoGitClient {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	for i, p := range opts.Ignore {
		opts.Ignore[i] = filepath.ToSlash(filepath.Clean(p))
	}
	return &GoGitClient{root: projectRoot, opts: opts}
}

func (c *GoGitClient) open() (*git.Repository, *git.Worktree, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.repo == nil {
		repo, err := git.PlainOpenWithOptions(c.root, &git.PlainOpenOptions{DetectDotGit: true})
		if err != nil {
			if errors.Is(err, git.ErrRepositoryNotExists) {
				return nil, nil, fmt.Errorf("%w: %s", ErrNotRepository, c.root)
			}
			return nil, nil, fmt.Errorf("opening repository: %w", err)
		}
		c.repo = repo
	}
	wt, err := c.repo.Worktree()
	if err != nil {
		if errors.Is(err, git.ErrIsBareRepository) {
			return nil, nil, fmt.Errorf("%w: %s is bare", ErrNotRepository, c.root)
		}
		return nil, nil, err
	}
	return c.repo, wt, nil
}

func (c *GoGitClient) EnsureRepository(_ context.Context) error {
	_, _, err := c.open()
	return err
}

func (c *GoGitClient) EnsureCleanWorkingTree(ctx context.Context) error {
	st, err := c.Status(ctx)
	if err != nil {
		return err
	}
	if !st.Clean {
		n := len(st.Staged) + len(st.Unstaged) + len(st.Untracked)
		return fmt.Errorf("%w: %d changed paths", ErrDirtyWorkingTree, n)
	}
	return nil
}

func (c *GoGitClient) CreateAndCheckoutBranch(_ context.Context, name string) error {
	repo, wt, err := c.open()
	if err != nil {
		return err
	}
	ref := plumbing.NewBranchReferenceName(name)
	if err := ref.Validate(); err != nil {
		return fmt.Errorf("invalid branch name %q: %w", name, err)
	}
	if _, err := repo.Reference(ref, false); err == nil {
		return fmt.Errorf("%w: %s", ErrBranchExists, name)
	}

	if _, err := repo.Head(); errors.Is(err, plumbing.ErrReferenceNotFound) {
		// unborn HEAD: point it at the new branch, the first commit creates it
		return repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, ref))
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: ref, Create: true, Keep: true}); err != nil {
		return fmt.Errorf("creating branch %s: %w", name, err)
	}
	return nil
}

// StageFiles stages paths, or every changed path when none are given. Paths may
// be absolute or relative to the repository root.
func (c *GoGitClient) StageFiles(ctx context.Context, paths []string) error {
	_, wt, err := c.open()
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		if paths, err = c.ChangedFiles(ctx); err != nil {
			return err
		}
	}
	root := wt.Filesystem.Root()
	for _, p := range paths {
		rel, err := c.relative(root, p)
		if err != nil {
			return err
		}
		if _, statErr := os.Lstat(filepath.Join(root, rel)); errors.Is(statErr, os.ErrNotExist) {
			if _, err := wt.Remove(rel); err != nil {
				return fmt.Errorf("staging removal of %s: %w", rel, err)
			}
			continue
		}
		if _, err := wt.Add(rel); err != nil {
			return fmt.Errorf("staging %s: %w", rel, err)
		}
	}
	return nil
}

func (c *GoGitClient) relative(root, p string) (string, error) {
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return "", err
		}
		p = rel
	}
	p = filepath.Clean(p)
	if p == ".." || strings.HasPrefix(p, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the repository", p)
	}
	return filepath.ToSlash(p), nil
}

func (c *GoGitClient) HasStagedChanges(ctx context.Context) (bool, error) {
	st, err := c.Status(ctx)
	if err != nil {
		return false, err
	}
	return len(st.Staged) > 0, nil
}

func (c *GoGitClient) Status(_ context.Context) (Status, error) {
	repo, wt, err := c.open()
	if err != nil {
		return Status{}, err
	}
	raw, err := wt.Status()
	if err != nil {
		return Status{}, fmt.Errorf("reading worktree status: %w", err)
	}

	st := Status{Branch: currentBranch(repo)}
	for path, fs := range raw {
		if c.ignored(path) {
			continue
		}
		if fs.Worktree == git.Untracked {
			st.Untracked = append(st.Untracked, path)
			continue
		}
		if fs.Staging != git.Unmodified {
			st.Staged = append(st.Staged, path)
		}
		if fs.Worktree != git.Unmodified {
			st.Unstaged = append(st.Unstaged, path)
		}
	}
	sort.Strings(st.Staged)
	sort.Strings(st.Unstaged)
	sort.Strings(st.Untracked)
	st.Clean = len(st.Staged)+len(st.Unstaged)+len(st.Untracked) == 0
	return st, nil
}

func (c *GoGitClient) ignored(path string) bool {
	for _, prefix := range c.opts.Ignore {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

func currentBranch(repo *git.Repository) string {
	head, err := repo.Head()
	if err == nil {
		if head.Name().IsBranch() {
			return head.Name().Short()
		}
		return ""
	}
	// unborn branch
	if sym, err := repo.Storer.Reference(plumbing.HEAD); err == nil && sym.Type() == plumbing.SymbolicReference {
		return sym.Target().Short()
	}
	return ""
}

// ChangedFiles lists staged, unstaged and untracked paths, sorted and deduplicated.
func (c *GoGitClient) ChangedFiles(ctx context.Context) ([]string, error) {
	st, err := c.Status(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	var out []string
	for _, group := range [][]string{st.Staged, st.Unstaged, st.Untracked} {
		for _, p := range group {
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				out = append(out, p)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (c *GoGitClient) CreateCommit(ctx context.Context, message string, meta CommitMetadata) (Commit, error) {
	if strings.TrimSpace(message) == "" {
		return Commit{}, errors.New("commit message is empty")
	}
	staged, err := c.HasStagedChanges(ctx)
	if err != nil {
		return Commit{}, err
	}
	if !staged {
		return Commit{}, ErrNothingStaged
	}

	repo, wt, err := c.open()
	if err != nil {
		return Commit{}, err
	}
	sig := c.signature(repo, meta)
	hash, err := wt.Commit(message, &git.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		return Commit{}, fmt.Errorf("creating commit: %w", err)
	}
	obj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, fmt.Errorf("reading new commit: %w", err)
	}
	return toCommit(obj), nil
}

// signature prefers explicit metadata, then configured options, then git config.
func (c *GoGitClient) signature(repo *git.Repository, meta CommitMetadata) *object.Signature {
	name, email := meta.AuthorName, meta.AuthorEmail
	if name == "" {
		name = c.opts.AuthorName
	}
	if email == "" {
		email = c.opts.AuthorEmail
	}
	if name == "" || email == "" {
		if cfg, err := repo.ConfigScoped(gitconfig.GlobalScope); err == nil {
			if name == "" {
				name = cfg.User.Name
			}
			if email == "" {
				email = cfg.User.Email
			}
		}
	}
	if name == "" {
		name = "autopilot"
	}
	if email == "" {
		email = "autopilot@localhost"
	}
	return &object.Signature{Name: name, Email: email, When: c.opts.Now()}
}

func (c *GoGitClient) LastCommit(_ context.Context) (Commit, error) {
	repo, _, err := c.open()
	if err != nil {
		return Commit{}, err
	}
	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return Commit{}, ErrNoCommits
		}
		return Commit{}, err
	}
	obj, err := repo.CommitObject(head.Hash())
	if err != nil {
		return Commit{}, fmt.Errorf("reading HEAD commit: %w", err)
	}
	return toCommit(obj), nil
}

func toCommit(obj *object.Commit) Commit {
	return Commit{
		Hash:    obj.Hash.String(),
		Message: obj.Message,
		Author:  fmt.Sprintf("%s <%s>", obj.Author.Name, obj.Author.Email),
		When:    obj.Author.When,
	}
}

// StagedContent returns the index blobs of staged files that still exist.
// Files larger than 1MB are truncated.
func (c *GoGitClient) StagedContent(ctx context.Context) ([]StagedFile, error) {
	st, err := c.Status(ctx)
	if err != nil {
		return nil, err
	}
	repo, _, err := c.open()
	if err != nil {
		return nil, err
	}
	idx, err := repo.Storer.Index()
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}

	var out []StagedFile
	for _, path := range st.Staged {
		entry, err := idx.Entry(path)
		if err != nil {
			continue // staged deletion
		}
		blob, err := repo.BlobObject(entry.Hash)
		if err != nil {
			return nil, fmt.Errorf("reading staged blob for %s: %w", path, err)
		}
		r, err := blob.Reader()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(io.LimitReader(r, maxStagedFileSize))
		_ = r.Close()
		if err != nil {
			return nil, fmt.Errorf("reading staged blob for %s: %w", path, err)
		}
		out = append(out, StagedFile{Path: path, Content: data})
	}
	return out, nil
}
