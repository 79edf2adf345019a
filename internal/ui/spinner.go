package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
)

// SpinnerFrames is the animation shown while a session is connecting.
var SpinnerFrames = spinner.Spinner{
	Frames: []string{"◐", "◓", "◑", "◒"},
	FPS:    time.Second / 10,
}

// NewSpinner returns a Bubble Tea spinner in the house style.
func NewSpinner() spinner.Model {
	sp := spinner.New()
	sp.Spinner = SpinnerFrames
	sp.Style = lipgloss.NewStyle().Foreground(ColorSecondary)
	return sp
}

// FormatCountdown renders a retry delay rounded up to whole seconds, so a
// pending retry never shows "0s".
func FormatCountdown(d time.Duration) string {
	if d <= 0 {
		return "now"
	}
	secs := int((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%ds", secs)
}
