// Autopilot drives a test-driven workflow for one task at a time.
//
// A workflow creates a feature branch, then walks every subtask of the task
// through RED (write a failing test), GREEN (make it pass) and COMMIT before
// finalizing. State lives in .autopilot/workflow-state.json inside the project,
// so every command is a separate process that resumes where the last one left off.
//
// Usage:
//
//	autopilot start 7
//	autopilot next
//	autopilot complete --results '{"total":3,"passed":2,"failed":1}'
//	autopilot commit
//	autopilot status --json
//
// The same operations are served to agents with `autopilot mcp` (stdio) and
// `autopilot serve` (HTTP).
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fyrsmithlabs/autopilot/internal/autopilot"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newApp(os.Stdin, os.Stdout, os.Stderr)
	err := newRootCmd(a).ExecuteContext(ctx)
	a.close()
	if err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

// printError writes err and, for known error classes, a hint.
func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "error: %v\n", err)
	if hint := autopilot.Hint(err); hint != "" {
		fmt.Fprintf(w, "hint: %s\n", hint)
	}
}
