// Package ui provides the visual styling for the explorer CLI surfaces.
package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// Color palette. Genesis wears amber, sovereign wears green; the rest
// follows the terminal's own foreground.
var (
	ColorPrimary   = lipgloss.Color("#5FAFFF") // Blue
	ColorAccent    = lipgloss.Color("#AF87FF") // Violet
	ColorSuccess   = lipgloss.Color("#87D787") // Green
	ColorWarning   = lipgloss.Color("#FFD75F") // Amber
	ColorError     = lipgloss.Color("#FF5F5F") // Red
	ColorMuted     = lipgloss.Color("#808080") // Gray
	ColorSovereign = lipgloss.Color("#87D787")
	ColorGenesis   = lipgloss.Color("#FFD75F")
)

// Styles holds the lipgloss styles shared by status and watch.
type Styles struct {
	Title   lipgloss.Style
	Section lipgloss.Style
	Label   lipgloss.Style
	Value   lipgloss.Style
	Muted   lipgloss.Style

	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style

	Genesis   lipgloss.Style
	Sovereign lipgloss.Style

	Spinner lipgloss.Style
	Footer  lipgloss.Style
	Panel   lipgloss.Style
}

// NewStyles creates the standard style set.
func NewStyles() Styles {
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary),
		Section: lipgloss.NewStyle().Bold(true).Foreground(ColorAccent).MarginTop(1),
		Label:   lipgloss.NewStyle().Foreground(ColorMuted).Width(14),
		Value:   lipgloss.NewStyle(),
		Muted:   lipgloss.NewStyle().Foreground(ColorMuted),

		Success: lipgloss.NewStyle().Foreground(ColorSuccess),
		Error:   lipgloss.NewStyle().Foreground(ColorError),
		Warning: lipgloss.NewStyle().Foreground(ColorWarning),

		Genesis:   lipgloss.NewStyle().Bold(true).Foreground(ColorGenesis),
		Sovereign: lipgloss.NewStyle().Bold(true).Foreground(ColorSovereign),

		Spinner: lipgloss.NewStyle().Foreground(ColorAccent),
		Footer:  lipgloss.NewStyle().Foreground(ColorMuted),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorMuted).
			Padding(0, 1),
	}
}

// Phase renders a phase name in its color.
func (s Styles) Phase(phase string) string {
	switch phase {
	case "sovereign":
		return s.Sovereign.Render(phase)
	case "genesis":
		return s.Genesis.Render(phase)
	default:
		return s.Value.Render(phase)
	}
}

// Mark renders a pass/fail marker.
func (s Styles) Mark(ok bool) string {
	if ok {
		return s.Success.Render("✓")
	}
	return s.Error.Render("✗")
}
