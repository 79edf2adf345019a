package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/rileyhilliard/gpuctl/internal/session"
	"github.com/rileyhilliard/gpuctl/internal/ui"
)

const defaultSparkWidth = 30

// renderDashboard renders the complete dashboard view.
func (m Model) renderDashboard() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	if line := m.renderStatusLine(); line != "" {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if banner := m.renderBanner(); banner != "" {
		b.WriteString(banner)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.renderReadings())
	b.WriteString("\n")
	b.WriteString(m.renderFooter())

	return b.String()
}

// renderHeader renders the title and the connection badge.
func (m Model) renderHeader() string {
	title := TitleStyle.Render("gpuctl monitor")
	if m.title != "" {
		title += " " + m.title
	}

	badge := m.renderBadge()
	left := HeaderStyle.Render(title)
	if m.width <= 0 {
		return left + "  " + badge
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(badge) - 1
	if gap < 2 {
		gap = 2
	}
	return left + strings.Repeat(" ", gap) + badge
}

func (m Model) renderBadge() string {
	switch m.status.State {
	case session.StateConnecting, session.StateReconnecting:
		style := lipgloss.NewStyle().Foreground(ui.StateColor(m.status.State)).Bold(true)
		return m.spinner.View() + " " + style.Render(m.status.State.String())
	default:
		return ui.StateBadge(m.status.State)
	}
}

// renderStatusLine shows progress and failure details. An open session
// needs no extra line.
func (m Model) renderStatusLine() string {
	switch m.status.State {
	case session.StateOpen:
		return ""
	case session.StateFailed, session.StateClosedByUser, session.StateIdle:
		line := ui.StatusLine(m.status, m.now())
		return StatusStyle.Render(line + "  " + MutedStyle.Render("press r to reconnect"))
	default:
		return StatusStyle.Render(ui.StatusLine(m.status, m.now()))
	}
}

// renderBanner shows the last error the channel reported.
func (m Model) renderBanner() string {
	if m.notice == nil {
		return ""
	}
	msg := m.notice.Message
	if msg == "" {
		msg = "server reported an error"
	}
	return BannerStyle.Render(fmt.Sprintf("%s %s: %s", ui.SymbolFail, m.notice.Type, msg))
}

// renderReadings renders one row per metric: label, latest value and a
// sparkline over the history.
func (m Model) renderReadings() string {
	if !m.hasSample {
		return PanelStyle.Render(MutedStyle.Render("waiting for telemetry..."))
	}

	width := m.sparkWidth()
	lines := make([]string, 0, len(rows)+1)
	for _, r := range rows {
		value := r.value(m.latest)
		series := m.src.Series(r.series)

		var spark string
		if r.percent {
			spark = ui.RenderSparkline(series, width)
		} else {
			spark = ui.RenderSparklineMuted(series, width)
		}
		lines = append(lines, LabelStyle.Render(r.label)+ValueStyle.Render(value)+spark)
	}

	if !m.latest.Timestamp.IsZero() {
		stamp := m.latest.Timestamp.Local().Format("15:04:05")
		lines = append(lines, "", MutedStyle.Render(fmt.Sprintf("sample at %s, %d of %d kept", stamp, m.src.Len(), m.src.Capacity())))
	}

	return PanelStyle.Render(strings.Join(lines, "\n"))
}

// sparkWidth fits the sparkline into the window, never wider than the
// history can fill.
func (m Model) sparkWidth() int {
	width := m.src.Capacity()
	if width <= 0 {
		width = defaultSparkWidth
	}
	if m.width > 0 {
		avail := m.width - LabelStyle.GetWidth() - ValueStyle.GetWidth() - 6
		if avail < width {
			width = avail
		}
	}
	if width < 1 {
		width = 1
	}
	return width
}

// renderFooter renders the keyboard help footer.
func (m Model) renderFooter() string {
	hints := []string{"q quit", "? help"}
	if m.canReconnect() {
		hints = append(hints, "r reconnect")
	}
	return FooterStyle.Render(strings.Join(hints, " | "))
}
