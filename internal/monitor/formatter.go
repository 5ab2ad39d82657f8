package monitor

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/autopilot/internal/workflow"
)

// FormatTestResult formats a test run as "3 passed, 1 failed, 0 skipped of 4".
func FormatTestResult(r workflow.TestResult) string {
	return fmt.Sprintf("%d passed, %d failed, %d skipped of %d", r.Passed, r.Failed, r.Skipped, r.Total)
}

// FormatAttempts formats GREEN attempts as "1/3".
func FormatAttempts(st workflow.SubtaskInfo) string {
	return fmt.Sprintf("%d/%d", st.Attempts, st.MaxAttempts)
}

// FormatElapsed formats the time since an RFC 3339 start stamp. Unparseable
// stamps render as "-".
func FormatElapsed(startedAt string, now time.Time) string {
	start, err := time.Parse(time.RFC3339, startedAt)
	if err != nil || now.Before(start) {
		return "-"
	}
	return FormatDuration(int64(now.Sub(start).Seconds()))
}

// FormatDuration formats duration in seconds to "Xh Ym" or "Xm"
func FormatDuration(seconds int64) string {
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// subtaskGlyph returns the list marker for a subtask status.
func subtaskGlyph(s workflow.SubtaskStatus) string {
	switch s {
	case workflow.SubtaskCompleted:
		return "✓"
	case workflow.SubtaskInProgress:
		return "▶"
	case workflow.SubtaskError:
		return "✗"
	default:
		return "·"
	}
}
