package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"

	"github.com/taskdock/taskdock/internal/types"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

// statusLabel renders a task status with its color.
func statusLabel(s types.TaskStatus) string {
	switch s {
	case types.StatusPending:
		return yellow(string(s))
	case types.StatusProcessing:
		return cyan(string(s))
	case types.StatusCompleted:
		return green(string(s))
	case types.StatusError:
		return red(string(s))
	case types.StatusStopped:
		return gray(string(s))
	default:
		return string(s)
	}
}

// logGlyph renders the glyph for a log entry type.
func logGlyph(t types.LogType) string {
	switch t {
	case types.LogCommand:
		return gray("$")
	case types.LogError:
		return red("✗")
	case types.LogSuccess:
		return green("✓")
	default:
		return cyan("→")
	}
}

// formatAge renders a duration since a timestamp compactly.
func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// shortID truncates a task id for table display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
