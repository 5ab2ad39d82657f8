package autopilot

import (
	"errors"

	"github.com/fyrsmithlabs/autopilot/internal/gitops"
	"github.com/fyrsmithlabs/autopilot/internal/tasks"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
	"github.com/fyrsmithlabs/autopilot/pkg/secrets"
)

var (
	// ErrNoActiveWorkflow indicates the project has no workflow state file.
	// It is always joined with workflow.ErrNotFound.
	ErrNoActiveWorkflow = errors.New("no active workflow")

	// ErrWorkflowExists indicates Start was called while a workflow is in progress.
	ErrWorkflowExists = errors.New("a workflow is already in progress")

	// ErrInvalidRequest indicates malformed caller input.
	ErrInvalidRequest = errors.New("invalid request")
)

// ErrorKind is a stable name for a class of failures.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindInvalidRequest    ErrorKind = "invalid_request"
	KindNotFound          ErrorKind = "not_found"
	KindTaskNotFound      ErrorKind = "task_not_found"
	KindInvalidTask       ErrorKind = "invalid_task"
	KindWorkflowExists    ErrorKind = "workflow_exists"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindValidationFailed  ErrorKind = "validation_failed"
	KindMaxAttempts       ErrorKind = "max_attempts_exceeded"
	KindConflict          ErrorKind = "concurrent_modification"
	KindCorruptState      ErrorKind = "corrupt_state"
	KindPersistence       ErrorKind = "persistence_failure"
	KindGit               ErrorKind = "git"
	KindSecrets           ErrorKind = "secrets_detected"
	KindInternal          ErrorKind = "internal"
)

// Classify maps err onto its ErrorKind. The first matching class wins, so a
// persistence failure joined with a gate rejection reports the persistence failure.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, workflow.ErrPersistenceFailure):
		return KindPersistence
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, workflow.ErrInvalidContext):
		return KindInvalidRequest
	case errors.Is(err, workflow.ErrNotFound):
		return KindNotFound
	case errors.Is(err, tasks.ErrTaskNotFound):
		return KindTaskNotFound
	case errors.Is(err, tasks.ErrInvalidTask):
		return KindInvalidTask
	case errors.Is(err, ErrWorkflowExists):
		return KindWorkflowExists
	case errors.Is(err, workflow.ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, workflow.ErrMaxAttemptsExceeded):
		return KindMaxAttempts
	case errors.Is(err, workflow.ErrPhaseValidationFailed):
		return KindValidationFailed
	case errors.Is(err, workflow.ErrConcurrentModification):
		return KindConflict
	case errors.Is(err, workflow.ErrCorruptState):
		return KindCorruptState
	case errors.Is(err, secrets.ErrSecretsDetected):
		return KindSecrets
	case errors.Is(err, gitops.ErrNotRepository), errors.Is(err, gitops.ErrDirtyWorkingTree),
		errors.Is(err, gitops.ErrNothingStaged), errors.Is(err, gitops.ErrBranchExists),
		errors.Is(err, gitops.ErrNoCommits):
		return KindGit
	default:
		return KindInternal
	}
}

// Hint suggests what to do about err.
func Hint(err error) string {
	switch Classify(err) {
	case KindNotFound:
		return "no workflow is active here; run `autopilot start <taskId>`"
	case KindTaskNotFound:
		return "check the task id and the tasks.source settings"
	case KindInvalidTask:
		return "the task needs at least one subtask with an id and a title"
	case KindWorkflowExists:
		return "run `autopilot resume` to continue, or `autopilot start --force` to replace it"
	case KindInvalidTransition:
		return "run `autopilot next` to see what the workflow expects"
	case KindValidationFailed:
		return "fix the code or tests and submit new results with `autopilot complete`"
	case KindMaxAttempts:
		return "run `autopilot retry` to reset the subtask, or `autopilot abort`"
	case KindConflict:
		return "another process changed the workflow; run the command again"
	case KindCorruptState:
		return "the state file is unreadable; `autopilot abort --force` removes it"
	case KindPersistence:
		return "the state file could not be written; check permissions and disk space"
	case KindSecrets:
		return "remove the secret from the staged files or allowlist it in .gitleaks.toml"
	case KindGit:
		if errors.Is(err, gitops.ErrDirtyWorkingTree) {
			return "commit or stash your changes first"
		}
		if errors.Is(err, gitops.ErrNothingStaged) {
			return "there is nothing to commit; make changes or pass --files"
		}
		return "check the repository state with `git status`"
	default:
		return ""
	}
}
