// Package ui holds the terminal styling for dm command output. Colors
// degrade automatically when stdout is not a terminal or NO_COLOR is set.
package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	colorEnabled = termenv.EnvColorProfile() != termenv.Ascii
)

func render(style lipgloss.Style, s string) string {
	if !colorEnabled {
		return s
	}
	return style.Render(s)
}

// RenderPass styles a success marker.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn styles a warning marker.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderFail styles a failure marker.
func RenderFail(s string) string { return render(failStyle, s) }

// RenderAccent highlights an identifier or value inside a line.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderDim de-emphasizes supplementary detail.
func RenderDim(s string) string { return render(dimStyle, s) }

// RenderAction colors a plan action name.
func RenderAction(action string) string {
	switch action {
	case "create":
		return render(passStyle, action)
	case "update":
		return render(accentStyle, action)
	case "conflict":
		return render(failStyle, action)
	case "skip", "failed":
		return render(warnStyle, action)
	default:
		return action
	}
}
