package autopilot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autopilot/internal/commitmsg"
	"github.com/fyrsmithlabs/autopilot/internal/gitops"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
	"github.com/fyrsmithlabs/autopilot/pkg/secrets"
)

// TestCounts is the summary of one test run as reported by the agent.
type TestCounts struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Complete submits the test results of the current RED or GREEN step.
//
// A rejected GREEN result still changes the workflow (an attempt is consumed),
// so Complete returns the new status together with the gate error.
func (s *Service) Complete(ctx context.Context, projectRoot string, counts TestCounts) (_ *Status, err error) {
	ctx, finish := s.span(ctx, "complete", projectRoot)
	defer finish(&err)

	ctx, sess, err := s.open(ctx, projectRoot)
	if err != nil {
		return nil, err
	}
	tdd, ok := sess.orch.CurrentTDDPhase()
	if !ok || tdd == workflow.TDDPhaseCommit {
		return nil, fmt.Errorf("%w: test results are accepted in RED or GREEN, workflow is in %s",
			workflow.ErrInvalidTransition, describe(sess.orch))
	}

	result := workflow.TestResult{
		Total:   counts.Total,
		Passed:  counts.Passed,
		Failed:  counts.Failed,
		Skipped: counts.Skipped,
		Phase:   tdd,
	}
	ev := workflow.RedPhaseComplete(result)
	if tdd == workflow.TDDPhaseGreen {
		ev = workflow.GreenPhaseComplete(result)
	}
	applyErr := s.apply(ctx, sess, ev)

	if applyErr == nil && tdd == workflow.TDDPhaseRed {
		if cur, ok := sess.orch.CurrentSubtask(); ok &&
			sess.orch.Context().Metadata[workflow.RedAlreadySatisfiedKey(cur.ID)] != "" {
			s.logger.Info(ctx, "no failing tests in RED, advancing to GREEN", zap.String("subtask", cur.ID))
		}
	}
	if errors.Is(applyErr, workflow.ErrMaxAttemptsExceeded) {
		cur, _ := sess.orch.CurrentSubtask()
		s.logger.Warn(ctx, "subtask exhausted its attempts", zap.String("subtask", cur.ID))
	}
	return s.statusOf(ctx, sess, nil), applyErr
}

// CommitRequest commits the work of the current subtask.
type CommitRequest struct {
	ProjectRoot string `json:"projectRoot"`

	// Files to stage. Empty stages every changed file.
	Files []string `json:"files,omitempty"`

	// Type and Scope override the inferred conventional-commit fields.
	Type  string `json:"type,omitempty"`
	Scope string `json:"scope,omitempty"`

	// Description defaults to the subtask title.
	Description string `json:"description,omitempty"`
}

// CommitResult is the outcome of Commit.
type CommitResult struct {
	Commit *gitops.Commit `json:"commit,omitempty"`

	// Recovered is set when Commit found the subtask's commit already in HEAD
	// and only recorded it.
	Recovered bool    `json:"recovered,omitempty"`
	Status    *Status `json:"status"`
}

// Commit stages and commits the current subtask, then advances to the next
// subtask or to FINALIZE. A subtask already committed by an interrupted call is
// only advanced.
func (s *Service) Commit(ctx context.Context, req CommitRequest) (_ *CommitResult, err error) {
	ctx, finish := s.span(ctx, "commit", req.ProjectRoot)
	defer finish(&err)

	ctx, sess, err := s.open(ctx, req.ProjectRoot)
	if err != nil {
		return nil, err
	}
	if tdd, ok := sess.orch.CurrentTDDPhase(); !ok || tdd != workflow.TDDPhaseCommit {
		return nil, fmt.Errorf("%w: commit requires COMMIT, workflow is in %s",
			workflow.ErrInvalidTransition, describe(sess.orch))
	}
	git, err := s.git(sess.root)
	if err != nil {
		return nil, err
	}

	res := &CommitResult{}
	if cur, ok := sess.orch.CurrentSubtask(); ok && cur.Status == workflow.SubtaskInProgress {
		commit, recovered, err := s.commitSubtask(ctx, sess, git, cur, req)
		if err != nil {
			return nil, err
		}
		res.Commit = &commit
		res.Recovered = recovered
		if err := s.apply(ctx, sess, workflow.CommitComplete()); err != nil {
			return nil, err
		}
	}
	if err := s.advance(ctx, sess); err != nil {
		return nil, err
	}
	res.Status = s.statusOf(ctx, sess, git)
	return res, nil
}

func (s *Service) commitSubtask(ctx context.Context, sess *session, git gitops.Client,
	cur workflow.SubtaskInfo, req CommitRequest) (gitops.Commit, bool, error) {
	files := req.Files
	if len(files) == 0 {
		changed, err := git.ChangedFiles(ctx)
		if err != nil {
			return gitops.Commit{}, false, err
		}
		files = changed
	}
	if len(files) > 0 {
		if err := git.StageFiles(ctx, files); err != nil {
			return gitops.Commit{}, false, err
		}
	}
	staged, err := git.HasStagedChanges(ctx)
	if err != nil {
		return gitops.Commit{}, false, err
	}
	if !staged {
		if prev, ok := s.committedEarlier(ctx, sess, git, cur); ok {
			s.logger.Warn(ctx, "subtask already committed, recording it",
				zap.String("subtask", cur.ID),
				zap.String("commit", prev.Short()))
			return prev, true, nil
		}
		return gitops.Commit{}, false, fmt.Errorf("subtask %s: %w", cur.ID, gitops.ErrNothingStaged)
	}
	if s.cfg.Secrets.Guard {
		if err := s.guardSecrets(ctx, sess.root, git); err != nil {
			return gitops.Commit{}, false, err
		}
	}

	st, err := git.Status(ctx)
	if err != nil {
		return gitops.Commit{}, false, err
	}
	wctx := sess.orch.Context()
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = cur.Title
	}
	msg, err := s.commits.Generate(commitmsg.Input{
		Type:        req.Type,
		Scope:       req.Scope,
		Description: description,
		Files:       st.Staged,
		TaskID:      wctx.TaskID,
		SubtaskID:   cur.ID,
		Phase:       workflow.TDDPhaseCommit,
		Tests:       wctx.LastTestResult,
	})
	if err != nil {
		return gitops.Commit{}, false, err
	}

	commit, err := git.CreateCommit(ctx, msg, gitops.CommitMetadata{
		AuthorName:  s.cfg.Git.AuthorName,
		AuthorEmail: s.cfg.Git.AuthorEmail,
		TaskID:      wctx.TaskID,
		SubtaskID:   cur.ID,
	})
	if err != nil {
		return gitops.Commit{}, false, err
	}
	s.metrics.CommitsTotal.Inc()
	s.logger.Info(ctx, "subtask committed",
		zap.String("subtask", cur.ID),
		zap.String("commit", commit.Short()),
		zap.Int("files", len(st.Staged)))
	return commit, false, nil
}

// committedEarlier reports whether HEAD is the commit of cur made by a call
// that died before COMMIT_COMPLETE was saved. The commit must carry the task
// and subtask trailers and must not predate the workflow.
func (s *Service) committedEarlier(ctx context.Context, sess *session, git gitops.Client,
	cur workflow.SubtaskInfo) (gitops.Commit, bool) {
	head, err := git.LastCommit(ctx)
	if err != nil {
		return gitops.Commit{}, false
	}
	wctx := sess.orch.Context()
	if !hasTrailer(head.Message, "Task", wctx.TaskID) || !hasTrailer(head.Message, "Subtask", cur.ID) {
		return gitops.Commit{}, false
	}
	if started, err := time.Parse(time.RFC3339, wctx.Metadata[workflow.MetaStartedAt]); err == nil &&
		head.When.Before(started) {
		return gitops.Commit{}, false
	}
	return head, true
}

func hasTrailer(message, key, value string) bool {
	want := key + ": " + value
	for _, line := range strings.Split(message, "\n") {
		if strings.TrimSpace(line) == want {
			return true
		}
	}
	return false
}

func (s *Service) guardSecrets(ctx context.Context, root string, git gitops.Client) error {
	scanner, err := s.scannerFor(root)
	if err != nil {
		return err
	}
	staged, err := git.StagedContent(ctx)
	if err != nil {
		return err
	}
	files := make([]secrets.File, 0, len(staged))
	for _, f := range staged {
		files = append(files, secrets.File{Path: f.Path, Content: f.Content})
	}
	report := scanner.Scan(files)
	if err := report.Err(); err != nil {
		s.metrics.SecretFindingsTotal.Add(float64(len(report.Findings)))
		s.logger.Warn(ctx, "commit blocked by secret scan",
			zap.Int("findings", len(report.Findings)),
			zap.Int("scanned", report.Scanned))
		return err
	}
	return nil
}

// advance moves past a committed subtask.
func (s *Service) advance(ctx context.Context, sess *session) error {
	if _, more := sess.orch.CurrentSubtask(); more {
		return s.apply(ctx, sess, workflow.SubtaskComplete())
	}
	return s.apply(ctx, sess, workflow.AllSubtasksComplete())
}

// Retry gives an errored subtask a fresh set of attempts.
func (s *Service) Retry(ctx context.Context, projectRoot string) (_ *Status, err error) {
	ctx, finish := s.span(ctx, "retry", projectRoot)
	defer finish(&err)

	ctx, sess, err := s.open(ctx, projectRoot)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, sess, workflow.RetrySubtask()); err != nil {
		return nil, err
	}
	cur, _ := sess.orch.CurrentSubtask()
	s.logger.Info(ctx, "subtask reset for retry", zap.String("subtask", cur.ID))
	return s.statusOf(ctx, sess, nil), nil
}

func describe(o *workflow.Orchestrator) string {
	if tdd, ok := o.CurrentTDDPhase(); ok {
		return fmt.Sprintf("%s/%s", o.CurrentPhase(), tdd)
	}
	return string(o.CurrentPhase())
}
