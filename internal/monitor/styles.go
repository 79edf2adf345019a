package monitor

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/rileyhilliard/gpuctl/internal/ui"
)

// Dashboard colors beyond the shared ui palette.
const (
	ColorSurfaceBg = lipgloss.Color("#12121A")
	ColorBorder    = lipgloss.Color("#2A2A4A")
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Foreground(ui.ColorPrimary).
			Background(ColorSurfaceBg).
			Bold(true).
			Padding(0, 1)

	TitleStyle = lipgloss.NewStyle().
			Foreground(ui.ColorAccent).
			Bold(true)

	FooterStyle = lipgloss.NewStyle().
			Foreground(ui.ColorMuted).
			Padding(0, 1)

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)

	LabelStyle = lipgloss.NewStyle().
			Foreground(ui.ColorMuted).
			Width(12)

	ValueStyle = lipgloss.NewStyle().
			Foreground(ui.ColorPrimary).
			Width(26)

	StatusStyle = lipgloss.NewStyle().
			Foreground(ui.ColorWarning).
			Padding(0, 1)

	BannerStyle = lipgloss.NewStyle().
			Foreground(ui.ColorPrimary).
			Background(ui.ColorError).
			Bold(true).
			Padding(0, 1)

	MutedStyle = lipgloss.NewStyle().
			Foreground(ui.ColorMuted)
)
