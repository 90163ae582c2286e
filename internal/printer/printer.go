// Package printer provides colored terminal output helpers for the mesh CLI.
package printer

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/meshworks/mesh/pkg/taskboard"
)

func init() {
	// Force color output even when not connected to TTY
	// Users can disable with NO_COLOR environment variable
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	gray   = color.New(color.FgHiBlack)
)

// Success prints a success message in green with a checkmark prefix.
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		green.Printf("✓ %s", msg)
	} else {
		green.Print(msg)
	}
}

// Info prints an informational message in the default color.
func Info(format string, a ...any) {
	fmt.Printf(format, a...)
}

// Warning prints a warning message in yellow with a warning prefix.
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		yellow.Printf("⚠️  %s", msg)
	} else {
		yellow.Print(msg)
	}
}

// Error prints a formatted error with optional suggestions to stderr and
// returns a simple error for Cobra (which won't reprint it under
// SilenceErrors).
func Error(title string, explanation string, suggestions []string) error {
	red.Fprintf(os.Stderr, "%s\n\n", title)
	fmt.Fprintf(os.Stderr, "%s\n", explanation)

	if len(suggestions) > 0 {
		fmt.Fprintf(os.Stderr, "\n")
		if len(suggestions) == 1 {
			fmt.Fprintf(os.Stderr, "%s\n", suggestions[0])
		} else {
			fmt.Fprintf(os.Stderr, "Either:\n")
			for i, suggestion := range suggestions {
				fmt.Fprintf(os.Stderr, "  %d. %s\n", i+1, suggestion)
			}
		}
	}

	return fmt.Errorf("%s", title)
}

// TaskLine prints one task as a fixed-width status line, status colored by
// lifecycle stage.
func TaskLine(t *taskboard.Task) {
	status := statusColor(t.Status)
	owner := t.WorkerID
	if owner == "" {
		owner = "-"
	}
	fmt.Printf("  %-16s %-10s ", t.ID, t.Lane)
	status.Printf("%-12s", string(t.Status))
	gray.Printf(" %-20s", owner)
	fmt.Printf(" %s\n", t.Description)
}

// WorkerLine prints one live worker heartbeat.
func WorkerLine(hb *taskboard.WorkerHeartbeat) {
	cyan.Printf("  %-24s", hb.WorkerID)
	fmt.Printf(" %-12s", hb.WorkerType)
	if len(hb.TaskIDs) > 0 {
		fmt.Printf(" working: %s\n", strings.Join(hb.TaskIDs, ", "))
	} else {
		gray.Printf(" idle\n")
	}
}

// LedgerLine prints one release-ledger event, colored by severity.
func LedgerLine(when string, eventType, taskID, detail string) {
	gray.Printf("  %s ", when)
	eventColor(eventType).Printf("%-20s", eventType)
	fmt.Printf(" %-16s %s\n", taskID, detail)
}

func eventColor(eventType string) *color.Color {
	switch eventType {
	case "WORK_APPROVED":
		return green
	case "COMPLETE_TASK_DENY", "WORK_FAILED", "ROLE_UNRESOLVED":
		return red
	case "WORK_REJECTED", "TASK_REAPED":
		return yellow
	default:
		return cyan
	}
}

func statusColor(s taskboard.Status) *color.Color {
	switch s {
	case taskboard.StatusCompleted:
		return green
	case taskboard.StatusInProgress, taskboard.StatusReview:
		return cyan
	case taskboard.StatusFailed, taskboard.StatusBlocked:
		return red
	default:
		return yellow
	}
}
