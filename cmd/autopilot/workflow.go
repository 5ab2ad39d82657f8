package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/autopilot/internal/autopilot"
)

func newStartCmd(a *app) *cobra.Command {
	req := autopilot.StartRequest{}
	cmd := &cobra.Command{
		Use:   "start <taskId>",
		Short: "Start a workflow for a task",
		Long: `Start a workflow for a task: check the repository, create the feature branch
and open the first subtask in RED.

Examples:
  autopilot start 7
  autopilot start 7 --max-attempts 5
  autopilot start 7 --force   # replace an unfinished workflow`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.ProjectRoot = a.projectRoot
			req.TaskID = args[0]
			status, err := a.svc.Start(cmd.Context(), req)
			if err != nil {
				return err
			}
			return a.printStatus(status)
		},
	}
	cmd.Flags().BoolVar(&req.Force, "force", false, "replace an unfinished or unreadable workflow")
	cmd.Flags().IntVar(&req.MaxAttempts, "max-attempts", 0, "GREEN attempts per subtask (default from config)")
	cmd.Flags().StringVar(&req.Tag, "tag", "", "task list tag to read the task from")
	return cmd
}

func newResumeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume the workflow of this project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := a.svc.Resume(cmd.Context(), a.projectRoot)
			if err != nil {
				return err
			}
			return a.printStatus(status)
		},
	}
}

func newNextCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Show the next action the workflow expects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			next, err := a.svc.Next(cmd.Context(), a.projectRoot)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(next)
			}
			renderNext(a.stdout, next)
			return nil
		},
	}
}

func newCompleteCmd(a *app) *cobra.Command {
	var (
		results string
		counts  autopilot.TestCounts
	)
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Report the test results of the current RED or GREEN step",
		Long: `Report the test results of the current RED or GREEN step.

Results are given as JSON with total, passed, failed and skipped counts, read
from stdin when --results is "-", or with the individual count flags.

Examples:
  autopilot complete --results '{"total":3,"passed":2,"failed":1}'
  go-test-summary | autopilot complete --results -
  autopilot complete --total 3 --passed 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if results != "" {
				parsed, err := parseResults(results, a.stdin)
				if err != nil {
					return err
				}
				counts = parsed
			}
			if counts.Total <= 0 {
				return fmt.Errorf("%w: no test run reported, pass --results or --total greater than 0", autopilot.ErrInvalidRequest)
			}
			status, err := a.svc.Complete(cmd.Context(), a.projectRoot, counts)
			if status != nil {
				// a rejected GREEN run still changed the attempt counter
				if perr := a.printStatus(status); perr != nil && err == nil {
					err = perr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&results, "results", "", `test results as JSON, or "-" for stdin`)
	cmd.Flags().IntVar(&counts.Total, "total", 0, "total tests")
	cmd.Flags().IntVar(&counts.Passed, "passed", 0, "passed tests")
	cmd.Flags().IntVar(&counts.Failed, "failed", 0, "failed tests")
	cmd.Flags().IntVar(&counts.Skipped, "skipped", 0, "skipped tests")
	cmd.MarkFlagsMutuallyExclusive("results", "total")
	return cmd
}

// parseResults decodes a TestCounts document. "-" reads it from stdin.
func parseResults(arg string, stdin io.Reader) (autopilot.TestCounts, error) {
	var r io.Reader = strings.NewReader(arg)
	if arg == "-" {
		r = stdin
	}
	var counts autopilot.TestCounts
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&counts); err != nil {
		return counts, fmt.Errorf("%w: invalid --results: %v", autopilot.ErrInvalidRequest, err)
	}
	return counts, nil
}

func newCommitCmd(a *app) *cobra.Command {
	req := autopilot.CommitRequest{}
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Commit the current subtask and advance to the next one",
		Long: `Stage and commit the current subtask, then advance the workflow.

Without --files every changed file is staged. The commit message follows the
conventional commit format; type and scope are inferred from the changed
files unless given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req.ProjectRoot = a.projectRoot
			res, err := a.svc.Commit(cmd.Context(), req)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(res)
			}
			if res.Commit != nil {
				verb := "committed"
				if res.Recovered {
					verb = "recorded existing commit"
				}
				fmt.Fprintf(a.stdout, "%s %s %s\n", verb, res.Commit.Short(), firstLine(res.Commit.Message))
			}
			renderStatus(a.stdout, res.Status)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&req.Files, "files", nil, "files to stage (default: all changes)")
	cmd.Flags().StringVar(&req.Type, "type", "", "conventional commit type (feat, fix, test, ...)")
	cmd.Flags().StringVar(&req.Scope, "scope", "", "conventional commit scope")
	cmd.Flags().StringVarP(&req.Description, "message", "m", "", "commit description (default: subtask title)")
	return cmd
}

func newFinalizeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "finalize",
		Short: "Finish a workflow whose subtasks are all committed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := a.svc.Finalize(cmd.Context(), a.projectRoot)
			if err != nil {
				return err
			}
			return a.printStatus(status)
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show phase, progress and recent errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := a.svc.Status(cmd.Context(), a.projectRoot)
			if err != nil {
				return err
			}
			return a.printStatus(status)
		},
	}
}

func newAbortCmd(a *app) *cobra.Command {
	req := autopilot.AbortRequest{}
	cmd := &cobra.Command{
		Use:   "abort",
		Short: "Abort the workflow and remove its state",
		Long: `Abort the workflow and remove its state. The feature branch and its commits
are left in place. Aborting when no workflow exists does nothing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req.ProjectRoot = a.projectRoot
			res, err := a.svc.Abort(cmd.Context(), req)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(res)
			}
			if res.NoOp {
				fmt.Fprintln(a.stdout, "no active workflow")
				return nil
			}
			fmt.Fprintln(a.stdout, "workflow aborted")
			return nil
		},
	}
	cmd.Flags().BoolVar(&req.Force, "force", false, "remove an unreadable state file")
	cmd.Flags().StringVar(&req.Reason, "reason", "", "reason recorded with the abort")
	return cmd
}

func newRetryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Reset the attempts of a subtask that exhausted them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := a.svc.Retry(cmd.Context(), a.projectRoot)
			if err != nil {
				return err
			}
			return a.printStatus(status)
		},
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
