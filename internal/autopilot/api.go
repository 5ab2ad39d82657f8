package autopilot

import "context"

// Workflows is the operation set exposed to the CLI, MCP and HTTP adapters.
type Workflows interface {
	Start(ctx context.Context, req StartRequest) (*Status, error)
	Resume(ctx context.Context, projectRoot string) (*Status, error)
	Next(ctx context.Context, projectRoot string) (*NextAction, error)
	Status(ctx context.Context, projectRoot string) (*Status, error)
	Complete(ctx context.Context, projectRoot string, counts TestCounts) (*Status, error)
	Commit(ctx context.Context, req CommitRequest) (*CommitResult, error)
	Finalize(ctx context.Context, projectRoot string) (*Status, error)
	Abort(ctx context.Context, req AbortRequest) (*AbortResult, error)
	Retry(ctx context.Context, projectRoot string) (*Status, error)
}

var _ Workflows = (*Service)(nil)
