package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/741311791/roadmap-agent-sub009/internal/roadmap"
)

// Theme holds the color scheme for terminal output.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Pending lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Pending: lipgloss.Color("#6C6C6C"), // dim gray
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) pendingStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Pending)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// statusGlyph renders a single colored marker for a content status.
func (t Theme) statusGlyph(s roadmap.ContentStatus) string {
	switch s {
	case roadmap.StatusCompleted:
		return t.completedStyle().Render("✓")
	case roadmap.StatusFailed:
		return t.errorStyle().Render("✗")
	case roadmap.StatusGenerating:
		return t.statusStyle().Render("~")
	default:
		return t.pendingStyle().Render("·")
	}
}
