package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Workflow identifies the workflow a log entry belongs to.
type Workflow struct {
	TaskID      string
	RunID       string
	ProjectRoot string
}

type (
	workflowCtxKey struct{}
	requestCtxKey  struct{}
	loggerCtxKey   struct{}
)

// ContextFields extracts correlation fields from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if wf, ok := WorkflowFromContext(ctx); ok {
		if wf.TaskID != "" {
			fields = append(fields, zap.String("workflow.task", wf.TaskID))
		}
		if wf.RunID != "" {
			fields = append(fields, zap.String("workflow.run", wf.RunID))
		}
		if wf.ProjectRoot != "" {
			fields = append(fields, zap.String("project.root", wf.ProjectRoot))
		}
	}

	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	return fields
}

// WithWorkflow stores workflow identifiers in ctx.
func WithWorkflow(ctx context.Context, wf Workflow) context.Context {
	return context.WithValue(ctx, workflowCtxKey{}, wf)
}

// WorkflowFromContext returns the identifiers stored by WithWorkflow.
func WorkflowFromContext(ctx context.Context) (Workflow, bool) {
	wf, ok := ctx.Value(workflowCtxKey{}).(Workflow)
	return wf, ok
}

// WithRequestID tags ctx with an HTTP or MCP request id. Empty ids are ignored.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, id)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestCtxKey{}).(string)
	return id
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
