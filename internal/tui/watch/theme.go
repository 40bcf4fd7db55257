// Package watch implements the live terminal view of a running bridge:
// worker health, recent requests and the event stream.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme keeps all watch colors in one place.
type Theme struct {
	StatusOK      lipgloss.Style
	StatusPending lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusDead    lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Header    lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		StatusOK:      lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusPending: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		StatusDead:    lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#61AFEF")),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
	}
}

// healthStyle picks the color for a worker health state.
func (t Theme) healthStyle(state string) lipgloss.Style {
	switch state {
	case "healthy":
		return t.StatusOK
	case "checking":
		return t.StatusPending
	case "unhealthy":
		return t.StatusFailed
	default:
		return t.StatusDead
	}
}

// outcomeStyle picks the color for a request outcome status.
func (t Theme) outcomeStyle(status string) lipgloss.Style {
	switch status {
	case "ok":
		return t.StatusOK
	case "error":
		return t.Highlight
	case "timeout", "exited", "failed":
		return t.StatusFailed
	default:
		return t.Dim
	}
}
