package viz

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// styles is the set of lipgloss styles derived from one Theme.
type styles struct {
	header, label, value, big, water, param, active, idle, warn, help, panel lipgloss.Style
}

func newStyles(t Theme) styles {
	return styles{
		header: lipgloss.NewStyle().Foreground(t.Primary).Bold(true).MarginBottom(1),
		label:  lipgloss.NewStyle().Foreground(t.Muted).Width(12),
		value:  lipgloss.NewStyle().Foreground(t.Text),
		big:    lipgloss.NewStyle().Foreground(t.Accent).Bold(true),
		water:  lipgloss.NewStyle().Foreground(t.Water).Padding(1, 2),
		param:  lipgloss.NewStyle().Foreground(t.Accent).Bold(true),
		active: lipgloss.NewStyle().Foreground(t.Success).Bold(true),
		idle:   lipgloss.NewStyle().Foreground(t.Muted).Bold(true),
		warn:   lipgloss.NewStyle().Foreground(t.Warning),
		help:   lipgloss.NewStyle().Foreground(t.Muted).MarginTop(1),
		panel: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(t.Muted).
			Padding(1, 2).
			Width(48),
	}
}

// AnimatedSpinner returns frame of animated spinner
func AnimatedSpinner(frame int) string {
	spinners := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	return spinners[frame%len(spinners)]
}

// ProgressBar renders percent (0..1) as a bar of width cells.
func ProgressBar(percent float64, width int) string {
	filled := int(percent * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
