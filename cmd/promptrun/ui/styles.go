package ui

import (
	"strconv"

	"github.com/charmbracelet/lipgloss"
)

// Palette
var (
	Foreground  = lipgloss.AdaptiveColor{Light: "#101F38", Dark: "#f2f2f2"}
	Primary     = lipgloss.AdaptiveColor{Light: "#101F38", Dark: "#8BC34A"}
	Muted       = lipgloss.AdaptiveColor{Light: "#8a94a6", Dark: "#5c6b85"}
	Destructive = lipgloss.Color("#e53935")
	Success     = lipgloss.Color("#8BC34A")
	Warning     = lipgloss.Color("#FFC107")
)

// Styles holds the styles used by promptrun's terminal output.
type Styles struct {
	Title   lipgloss.Style
	Body    lipgloss.Style
	Muted   lipgloss.Style
	Bold    lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
}

// DefaultStyles adapts to the terminal background. lipgloss strips colors
// when output is not a terminal.
func DefaultStyles() Styles {
	return Styles{
		Title: lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true),

		Body: lipgloss.NewStyle().
			Foreground(Foreground),

		Muted: lipgloss.NewStyle().
			Foreground(Muted),

		Bold: lipgloss.NewStyle().
			Foreground(Foreground).
			Bold(true),

		Success: lipgloss.NewStyle().
			Foreground(Success).
			Bold(true),

		Error: lipgloss.NewStyle().
			Foreground(Destructive).
			Bold(true),

		Warning: lipgloss.NewStyle().
			Foreground(Warning),
	}
}

// ExitStatus renders an exit code, coloring non-zero values.
func (s Styles) ExitStatus(code int, killed bool, errText string) string {
	switch {
	case errText != "":
		return s.Error.Render("error")
	case killed:
		return s.Warning.Render("killed")
	case code == 0:
		return s.Success.Render("0")
	default:
		return s.Error.Render(strconv.Itoa(code))
	}
}
