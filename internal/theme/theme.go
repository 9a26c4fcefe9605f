package theme

import "github.com/charmbracelet/lipgloss"

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue   = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen  = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed    = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorGray   = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite  = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorBorder = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for section headers and the application title.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// HelpStyle is used for keyboard shortcut hints and help text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// OutcomeStyle returns a color-coded style for an attachment outcome.
func OutcomeStyle(outcome string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch outcome {
	case "converted":
		return base.Foreground(ColorGreen)
	case "passthrough":
		return base.Foreground(ColorBlue)
	case "failed":
		return base.Foreground(ColorRed)
	case "skipped":
		return base.Foreground(ColorGray)
	default:
		return base.Foreground(ColorGray)
	}
}

// RunStyle returns a style reflecting how a run ended.
func RunStyle(fatal bool, failed int) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch {
	case fatal:
		return base.Foreground(ColorRed)
	case failed > 0:
		return base.Foreground(ColorYellow)
	default:
		return base.Foreground(ColorGreen)
	}
}
