package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/autopilot/internal/autopilot"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	redStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	greenStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
)

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) printStatus(s *autopilot.Status) error {
	if a.jsonOut {
		return a.printJSON(s)
	}
	renderStatus(a.stdout, s)
	return nil
}

func phaseLabel(s *autopilot.Status) string {
	label := string(s.Phase)
	switch s.TDDPhase {
	case workflow.TDDPhaseRed:
		label += " / " + redStyle.Render(string(s.TDDPhase))
	case workflow.TDDPhaseGreen:
		label += " / " + greenStyle.Render(string(s.TDDPhase))
	case workflow.TDDPhaseCommit:
		label += " / " + string(s.TDDPhase)
	}
	return label
}

func renderStatus(w io.Writer, s *autopilot.Status) {
	if s == nil {
		return
	}
	title := "Task " + s.TaskID
	if s.TaskTitle != "" {
		title += ": " + s.TaskTitle
	}
	fmt.Fprintln(w, titleStyle.Render(title))
	if s.Branch != "" {
		fmt.Fprintf(w, "  branch:   %s\n", s.Branch)
	}
	fmt.Fprintf(w, "  phase:    %s\n", phaseLabel(s))
	fmt.Fprintf(w, "  progress: %d/%d subtasks (%d%%)\n", s.Progress.Completed, s.Progress.Total, s.Progress.Percentage)
	if st := s.CurrentSubtask; st != nil {
		fmt.Fprintf(w, "  subtask:  %s %s [%s, attempts %d/%d]\n", st.ID, st.Title, st.Status, st.Attempts, st.MaxAttempts)
	}
	if r := s.LastTestResult; r != nil {
		fmt.Fprintf(w, "  tests:    %d passed, %d failed, %d skipped of %d (%s)\n",
			r.Passed, r.Failed, r.Skipped, r.Total, r.Phase)
	}
	for _, e := range s.RecentErrors {
		fmt.Fprintf(w, "  %s %s\n", redStyle.Render("error:"), e.Message)
	}
	renderNext(w, &s.Next)
}

func renderNext(w io.Writer, n *autopilot.NextAction) {
	line := "next: " + string(n.Action)
	if n.Blocked {
		line += " (blocked)"
	}
	fmt.Fprintln(w, titleStyle.Render(line))
	if n.Description != "" {
		fmt.Fprintln(w, "  "+dimStyle.Render(n.Description))
	}
}
