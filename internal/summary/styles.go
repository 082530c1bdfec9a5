package summary

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Color palette
var (
	Critical = lipgloss.Color("#FF0000")
	High     = lipgloss.Color("#FF6B6B")
	Other    = lipgloss.Color("#FFD93D")
	Success  = lipgloss.Color("#00D26A")
	Warning  = lipgloss.Color("#FFB800")
	Muted    = lipgloss.Color("#6B7280")
)

// Pre-configured styles
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA"))

	SectionStyle = lipgloss.NewStyle().
			Bold(true).
			Underline(true)

	LabelStyle = lipgloss.NewStyle().
			Foreground(Muted)

	ValueStyle = lipgloss.NewStyle().
			Bold(true)

	IDStyle = lipgloss.NewStyle().
		Bold(true)

	PassStyle = lipgloss.NewStyle().
			Foreground(Success).
			Bold(true)

	FailStyle = lipgloss.NewStyle().
			Foreground(Critical).
			Bold(true)

	WarnStyle = lipgloss.NewStyle().
			Foreground(Warning)

	MutedStyle = lipgloss.NewStyle().
			Foreground(Muted).
			Italic(true)
)

// SetNoColor disables colored output for every renderer in the process
func SetNoColor(noColor bool) {
	if noColor {
		// Use ASCII profile to disable colors
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// SeverityStyle returns the style for a severity label
func SeverityStyle(severity string) lipgloss.Style {
	switch strings.ToUpper(severity) {
	case "CRITICAL":
		return lipgloss.NewStyle().Foreground(Critical).Bold(true)
	case "HIGH":
		return lipgloss.NewStyle().Foreground(High).Bold(true)
	case "MEDIUM", "MODERATE":
		return lipgloss.NewStyle().Foreground(Other)
	default:
		return lipgloss.NewStyle().Foreground(Muted)
	}
}
