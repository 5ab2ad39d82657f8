package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/autopilot/internal/autopilot"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
)

const (
	progressWidth = 40
	maxErrors     = 3
)

// Model represents the BubbleTea watch model
type Model struct {
	source   Source
	label    string
	changes  <-chan struct{}
	interval time.Duration
	now      func() time.Time

	lastUpdate time.Time
	status     *autopilot.Status
	err        error
	quitting   bool

	progress progress.Model
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	// Header style - bright cyan background, bold black text
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	// Section title style - bold bright cyan
	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	// Dim style - for units and secondary info
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	// Container style - rounded border with dim gray
	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)
)

// NewModel creates a watch model. changes may be nil, in which case the model
// only refreshes every interval.
func NewModel(source Source, label string, changes <-chan struct{}, interval time.Duration) Model {
	return Model{
		source:   source,
		label:    label,
		changes:  changes,
		interval: interval,
		now:      time.Now,
		progress: progress.New(
			progress.WithGradient("#ff5f5f", "#00ff87"),
			progress.WithWidth(progressWidth),
		),
	}
}

// tddBadge renders the TDD phase with its conventional color.
func tddBadge(p workflow.TDDPhase) string {
	switch p {
	case workflow.TDDPhaseRed:
		return errorStyle.Render("● RED")
	case workflow.TDDPhaseGreen:
		return healthyStyle.Render("● GREEN")
	case workflow.TDDPhaseCommit:
		return warningStyle.Render("● COMMIT")
	default:
		return dimStyle.Render("-")
	}
}

// Message types
type tickMsg time.Time
type changedMsg struct{}
type statusMsg *autopilot.Status
type errMsg error

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchStatus(m.source),
		waitForChange(m.changes),
	)
}

// tick creates a tick command for auto-refresh
func tick(interval time.Duration) tea.Cmd {
	if interval <= 0 {
		return nil
	}
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForChange blocks until the state file changes.
func waitForChange(changes <-chan struct{}) tea.Cmd {
	if changes == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return changedMsg{}
	}
}

func fetchStatus(source Source) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		status, err := source.Status(ctx)
		if err != nil {
			return errMsg(err)
		}
		return statusMsg(status)
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchStatus(m.source)
		}

	case tea.WindowSizeMsg:
		m.progress.Width = min(max(msg.Width-24, 10), progressWidth)
		return m, nil

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchStatus(m.source),
		)

	case changedMsg:
		return m, tea.Batch(
			fetchStatus(m.source),
			waitForChange(m.changes),
		)

	case statusMsg:
		m.status = msg
		m.lastUpdate = m.now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		if isNoWorkflow(m.err) {
			m.status = nil
		}
		m.lastUpdate = m.now()
		return m, nil
	}

	return m, nil
}

// View renders the watch view
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	switch {
	case m.err != nil && isNoWorkflow(m.err):
		return m.renderIdle()
	case m.err != nil:
		return m.renderError()
	case m.status == nil:
		return containerStyle.Render(m.header() + "\n\n" + dimStyle.Render("loading..."))
	}
	return m.renderWorkflow()
}

func (m Model) header() string {
	updated := "never"
	if !m.lastUpdate.IsZero() {
		updated = m.lastUpdate.Format("15:04:05")
	}
	return headerStyle.Render(" autopilot watch ") + "  " +
		dimStyle.Render(m.label) + "  " + dimStyle.Render(updated)
}

func (m Model) footer() string {
	auto := "on change"
	if m.interval > 0 {
		auto = fmt.Sprintf("every %v", m.interval)
	}
	return footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render("Auto: "+auto)
}

func (m Model) renderIdle() string {
	var b strings.Builder
	b.WriteString(m.header() + "\n\n")
	b.WriteString(dimStyle.Render("No active workflow.") + "\n")
	b.WriteString(dimStyle.Render("Run `autopilot start <taskId>` to begin.") + "\n")
	b.WriteString("\n" + m.footer())
	return containerStyle.Render(b.String())
}

// renderError renders the error view
func (m Model) renderError() string {
	var b strings.Builder
	b.WriteString(m.header() + "\n\n")
	b.WriteString(errorStyle.Render("⚠ Cannot read workflow status") + "\n\n")
	b.WriteString(dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n")
	if hint := autopilot.Hint(m.err); hint != "" {
		b.WriteString(dimStyle.Render("Hint: ") + valueStyle.Render(hint) + "\n")
	}
	b.WriteString("\n" + footerStyle.Render("[q] quit  [r] retry"))
	return containerStyle.Render(b.String())
}

func (m Model) renderWorkflow() string {
	s := m.status
	var b strings.Builder

	b.WriteString(m.header() + "\n")

	title := "Task " + s.TaskID
	if s.TaskTitle != "" {
		title += " · " + s.TaskTitle
	}
	b.WriteString(valueStyle.Render(title) + "\n")
	if s.Branch != "" {
		b.WriteString(labelStyle.Render("  Branch: ") + valueStyle.Render(s.Branch) + "\n")
	}
	b.WriteString(labelStyle.Render("  Elapsed: ") + valueStyle.Render(FormatElapsed(s.StartedAt, m.now())) + "\n")

	b.WriteString(sectionStyle.Render("┃ Phase") + "\n")
	b.WriteString(labelStyle.Render("  Workflow: ") + valueStyle.Render(string(s.Phase)) +
		"   " + tddBadge(s.TDDPhase) + "\n")
	ratio := 0.0
	if s.Progress.Total > 0 {
		ratio = float64(s.Progress.Completed) / float64(s.Progress.Total)
	}
	b.WriteString(labelStyle.Render("  Progress: ") + m.progress.ViewAs(ratio) + " " +
		dimStyle.Render(fmt.Sprintf("%d/%d", s.Progress.Completed, s.Progress.Total)) + "\n")

	b.WriteString(sectionStyle.Render("┃ Subtasks") + "\n")
	for _, st := range s.Subtasks {
		line := fmt.Sprintf("  %s %s %s", subtaskGlyph(st.Status), st.ID, st.Title)
		switch st.Status {
		case workflow.SubtaskCompleted:
			b.WriteString(healthyStyle.Render(line))
		case workflow.SubtaskInProgress:
			b.WriteString(valueStyle.Render(line))
		case workflow.SubtaskError:
			b.WriteString(errorStyle.Render(line))
		default:
			b.WriteString(dimStyle.Render(line))
		}
		if st.Attempts > 0 {
			b.WriteString(dimStyle.Render("  attempts " + FormatAttempts(st)))
		}
		b.WriteString("\n")
	}

	if s.LastTestResult != nil {
		b.WriteString(sectionStyle.Render("┃ Last test run") + "\n")
		b.WriteString("  " + tddBadge(s.LastTestResult.Phase) + "  " +
			valueStyle.Render(FormatTestResult(*s.LastTestResult)) + "\n")
	}

	if len(s.RecentErrors) > 0 {
		b.WriteString(sectionStyle.Render("┃ Recent errors") + "\n")
		errs := s.RecentErrors
		if len(errs) > maxErrors {
			errs = errs[len(errs)-maxErrors:]
		}
		for _, e := range errs {
			where := string(e.Phase)
			if e.SubtaskID != "" {
				where = e.SubtaskID
			}
			b.WriteString(errorStyle.Render("  ✗ ") + dimStyle.Render(where+": ") + e.Message + "\n")
		}
	}

	b.WriteString(sectionStyle.Render("┃ Next") + "\n")
	next := valueStyle.Render(string(s.Next.Action))
	if s.Next.Blocked {
		next += " " + warningStyle.Render("[blocked]")
	}
	b.WriteString("  " + next + "\n")
	if s.Next.Description != "" {
		b.WriteString("  " + dimStyle.Render(s.Next.Description) + "\n")
	}

	b.WriteString("\n" + m.footer())
	return containerStyle.Render(b.String())
}

// Run starts the watch program and blocks until the user quits or ctx is done.
func Run(ctx context.Context, model Model) error {
	p := tea.NewProgram(model, tea.WithContext(ctx), tea.WithAltScreen())
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
