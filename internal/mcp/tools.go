package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autopilot/internal/autopilot"
)

// toolCatalog lists the tools served by Server.
func toolCatalog() []*ToolMetadata {
	return []*ToolMetadata{
		{
			Name:        "autopilot_start",
			Description: "Start a TDD workflow for a task: runs preflight checks, creates the feature branch and opens the first subtask in RED",
			Category:    CategoryLifecycle,
			Keywords:    []string{"begin", "task", "branch"},
		},
		{
			Name:        "autopilot_resume",
			Description: "Resume the workflow of a project and return its status",
			Category:    CategoryLifecycle,
			Keywords:    []string{"continue", "reload"},
		},
		{
			Name:        "autopilot_next",
			Description: "Return the next action the workflow expects",
			Category:    CategoryQuery,
			ReadOnly:    true,
			Keywords:    []string{"directive", "todo"},
		},
		{
			Name:        "autopilot_status",
			Description: "Return phase, progress, current subtask, last test result and recent errors",
			Category:    CategoryQuery,
			ReadOnly:    true,
			Keywords:    []string{"progress", "state"},
		},
		{
			Name:        "autopilot_complete_phase",
			Description: "Submit test results for the current RED or GREEN step",
			Category:    CategoryLoop,
			Keywords:    []string{"tests", "results", "red", "green"},
		},
		{
			Name:        "autopilot_commit",
			Description: "Stage and commit the current subtask, then advance to the next one",
			Category:    CategoryLoop,
			Keywords:    []string{"git", "commit"},
		},
		{
			Name:        "autopilot_finalize",
			Description: "Finish a workflow whose subtasks are all committed",
			Category:    CategoryLifecycle,
			Keywords:    []string{"done", "complete"},
		},
		{
			Name:        "autopilot_abort",
			Description: "Abort the workflow and remove its state; commits and branches are kept",
			Category:    CategoryLifecycle,
			Keywords:    []string{"cancel", "stop"},
		},
		{
			Name:        "autopilot_retry",
			Description: "Reset a subtask that used all of its GREEN attempts",
			Category:    CategoryLoop,
			Keywords:    []string{"reset", "attempts"},
		},
	}
}

type projectInput struct {
	ProjectRoot string `json:"projectRoot" jsonschema:"absolute path of the project"`
}

type startInput struct {
	ProjectRoot string `json:"projectRoot" jsonschema:"absolute path of the project"`
	TaskID      string `json:"taskId" jsonschema:"id of the task to work on"`
	Force       bool   `json:"force,omitempty" jsonschema:"replace an unfinished workflow"`
	MaxAttempts int    `json:"maxAttempts,omitempty" jsonschema:"GREEN attempts per subtask"`
	Tag         string `json:"tag,omitempty" jsonschema:"task list tag"`
}

type testResultsInput struct {
	Total   int `json:"total" jsonschema:"number of tests run"`
	Passed  int `json:"passed" jsonschema:"number of passing tests"`
	Failed  int `json:"failed" jsonschema:"number of failing tests"`
	Skipped int `json:"skipped,omitempty" jsonschema:"number of skipped tests"`
}

type completeInput struct {
	ProjectRoot string           `json:"projectRoot" jsonschema:"absolute path of the project"`
	TestResults testResultsInput `json:"testResults" jsonschema:"summary of the test run"`
}

type commitInput struct {
	ProjectRoot string   `json:"projectRoot" jsonschema:"absolute path of the project"`
	Files       []string `json:"files,omitempty" jsonschema:"files to stage; all changed files when empty"`
	Type        string   `json:"type,omitempty" jsonschema:"conventional commit type"`
	Scope       string   `json:"scope,omitempty" jsonschema:"conventional commit scope"`
	Description string   `json:"description,omitempty" jsonschema:"commit description; defaults to the subtask title"`
}

type abortInput struct {
	ProjectRoot string `json:"projectRoot" jsonschema:"absolute path of the project"`
	Reason      string `json:"reason,omitempty" jsonschema:"why the workflow is aborted"`
	Force       bool   `json:"force,omitempty" jsonschema:"also remove an unreadable state file"`
}

func (s *Server) registerTools() error {
	for _, tool := range toolCatalog() {
		if err := s.registry.Register(tool); err != nil {
			return err
		}
	}

	return errors.Join(
		addTool(s, "autopilot_start", func(ctx context.Context, in startInput) (any, error) {
			return s.svc.Start(ctx, autopilot.StartRequest{
				ProjectRoot: in.ProjectRoot,
				TaskID:      in.TaskID,
				Force:       in.Force,
				MaxAttempts: in.MaxAttempts,
				Tag:         in.Tag,
			})
		}),
		addTool(s, "autopilot_resume", func(ctx context.Context, in projectInput) (any, error) {
			return s.svc.Resume(ctx, in.ProjectRoot)
		}),
		addTool(s, "autopilot_next", func(ctx context.Context, in projectInput) (any, error) {
			return s.svc.Next(ctx, in.ProjectRoot)
		}),
		addTool(s, "autopilot_status", func(ctx context.Context, in projectInput) (any, error) {
			return s.svc.Status(ctx, in.ProjectRoot)
		}),
		addTool(s, "autopilot_complete_phase", func(ctx context.Context, in completeInput) (any, error) {
			return s.svc.Complete(ctx, in.ProjectRoot, autopilot.TestCounts(in.TestResults))
		}),
		addTool(s, "autopilot_commit", func(ctx context.Context, in commitInput) (any, error) {
			return s.svc.Commit(ctx, autopilot.CommitRequest{
				ProjectRoot: in.ProjectRoot,
				Files:       in.Files,
				Type:        in.Type,
				Scope:       in.Scope,
				Description: in.Description,
			})
		}),
		addTool(s, "autopilot_finalize", func(ctx context.Context, in projectInput) (any, error) {
			return s.svc.Finalize(ctx, in.ProjectRoot)
		}),
		addTool(s, "autopilot_abort", func(ctx context.Context, in abortInput) (any, error) {
			return s.svc.Abort(ctx, autopilot.AbortRequest{
				ProjectRoot: in.ProjectRoot,
				Reason:      in.Reason,
				Force:       in.Force,
			})
		}),
		addTool(s, "autopilot_retry", func(ctx context.Context, in projectInput) (any, error) {
			return s.svc.Retry(ctx, in.ProjectRoot)
		}),
	)
}

// addTool registers a tool whose result is returned as JSON text. Service errors
// become tool errors carrying the error class, a hint and any partial result.
func addTool[In any](s *Server, name string, run func(context.Context, In) (any, error)) error {
	meta, err := s.registry.Get(name)
	if err != nil {
		return err
	}
	tool := &mcp.Tool{
		Name:        meta.Name,
		Description: meta.Description,
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: meta.ReadOnly},
	}

	mcp.AddTool(s.mcp, tool, func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		done := s.metrics.begin(ctx, name)
		out, err := run(ctx, in)
		done(err)

		if err != nil {
			s.logger.Debug("tool failed", zap.String("tool", name), zap.Error(err))
			return toolError(err, out), nil, nil
		}
		text, err := encode(out)
		if err != nil {
			return nil, nil, err
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, nil, nil
	})
	return nil
}

type toolErrorPayload struct {
	Error  string `json:"error"`
	Kind   string `json:"kind"`
	Hint   string `json:"hint,omitempty"`
	Result any    `json:"result,omitempty"`
}

func toolError(err error, partial any) *mcp.CallToolResult {
	payload := toolErrorPayload{
		Error: err.Error(),
		Kind:  string(autopilot.Classify(err)),
		Hint:  autopilot.Hint(err),
	}
	if !isNil(partial) {
		payload.Result = partial
	}
	text, encErr := encode(payload)
	if encErr != nil {
		text = err.Error()
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func encode(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding tool result: %w", err)
	}
	return string(data), nil
}

// isNil reports whether v is nil or a typed nil pointer returned by the service.
func isNil(v any) bool {
	switch p := v.(type) {
	case nil:
		return true
	case *autopilot.Status:
		return p == nil
	case *autopilot.NextAction:
		return p == nil
	case *autopilot.CommitResult:
		return p == nil
	case *autopilot.AbortResult:
		return p == nil
	default:
		return false
	}
}
