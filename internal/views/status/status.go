package status

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/pagewire/pages/internal/theme"
)

// Model holds the status bar state.
type Model struct {
	State     string
	SessionID string
	Route     string
	Functions int
	Width     int
}

func New() Model {
	return Model{State: "connecting"}
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	stateStr := lipgloss.NewStyle().
		Foreground(theme.StateColor(m.State)).
		Render(theme.StateGlyph(m.State) + " " + m.State)

	id := m.SessionID
	if len(id) > 8 {
		id = id[:8]
	}

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := stateStr + sep +
		theme.StyleDimmed.Render("id ") + id + sep +
		theme.StyleDimmed.Render("route ") + m.Route + sep +
		fmt.Sprintf("%d functions", m.Functions)

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
