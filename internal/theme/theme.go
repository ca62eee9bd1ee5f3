// Package theme provides the Lip Gloss color palette and reusable styles
// for the pages terminal host. It is a leaf package with no internal imports
// to avoid import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Session state colors.
var (
	ColorConnecting = lipgloss.Color("#d97706")
	ColorOpen       = lipgloss.Color("#22c55e")
	ColorClosed     = lipgloss.Color("#dc2626")
)

// Log kind colors.
var (
	ColorSay      = lipgloss.Color("#2563eb")
	ColorOutbound = lipgloss.Color("#7c3aed")
	ColorValue    = lipgloss.Color("#06b6d4")
	ColorError    = lipgloss.Color("#dc2626")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorDefault = lipgloss.Color("#9ca3af")
)

// StateColor returns the color for a session state name.
func StateColor(state string) lipgloss.Color {
	switch state {
	case "connecting":
		return ColorConnecting
	case "open":
		return ColorOpen
	case "closed":
		return ColorClosed
	default:
		return ColorDefault
	}
}

// StateGlyph returns a Unicode glyph for a session state name.
func StateGlyph(state string) string {
	switch state {
	case "connecting":
		return "◌"
	case "open":
		return "●"
	case "closed":
		return "○"
	default:
		return "·"
	}
}

// KindColor returns the color for an event log kind.
func KindColor(kind string) lipgloss.Color {
	switch kind {
	case "say":
		return ColorSay
	case "out":
		return ColorOutbound
	case "val":
		return ColorValue
	case "err":
		return ColorError
	case "sys":
		return ColorConnecting
	default:
		return ColorDimmed
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)
)
