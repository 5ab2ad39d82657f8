// Package logging provides context-aware structured logging on top of zap.
//
// Logs go to stderr and, optionally, to a size-rotated file. Stdout is never used:
// it carries CLI output and the MCP stdio transport. When an OTEL log provider is
// supplied, entries are also bridged to OpenTelemetry.
//
// Workflow identifiers stored with WithWorkflow and the active trace span are added
// to every entry written through the context-aware methods:
//
//	ctx = logging.WithWorkflow(ctx, logging.Workflow{TaskID: "12", RunID: runID})
//	logger.Info(ctx, "subtask committed", zap.String("subtask", "12.3"))
//
// Sensitive keys and value patterns are redacted by the encoder before anything is
// written.
package logging
