package main

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// colorEnabled reports whether stdout is a terminal that can render
// ANSI color codes. Piped output (scripts, `| less`, CI logs) stays
// plain so grep/diff against it doesn't have to strip escape codes.
var colorEnabled = isatty.IsTerminal(os.Stdout.Fd())

var (
	stylePass = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true) // green
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true) // yellow
	styleFail = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)  // red
	styleSkip = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))             // grey
)

// renderStatus renders a doctor/status check label ("PASS", "WARN",
// "FAIL", "SKIP"), colorized when stdout is a terminal.
func renderStatus(status string) string {
	if !colorEnabled {
		return status
	}
	switch status {
	case "PASS":
		return stylePass.Render(status)
	case "WARN":
		return styleWarn.Render(status)
	case "FAIL":
		return styleFail.Render(status)
	default:
		return styleSkip.Render(status)
	}
}
