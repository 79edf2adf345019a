package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/rileyhilliard/gpuctl/internal/session"
)

// StateSymbol returns the indicator drawn next to a session state.
func StateSymbol(s session.State) string {
	switch s {
	case session.StateOpen:
		return SymbolComplete
	case session.StateConnecting:
		return SymbolProgress
	case session.StateReconnecting:
		return SymbolRetry
	case session.StateFailed:
		return SymbolFail
	default:
		return SymbolPending
	}
}

// StateColor returns the color used for a session state.
func StateColor(s session.State) lipgloss.Color {
	switch s {
	case session.StateOpen:
		return ColorSuccess
	case session.StateConnecting, session.StateReconnecting:
		return ColorWarning
	case session.StateFailed:
		return ColorError
	default:
		return ColorMuted
	}
}

// StateBadge renders "● open" style badges.
func StateBadge(s session.State) string {
	return lipgloss.NewStyle().
		Foreground(StateColor(s)).
		Bold(true).
		Render(StateSymbol(s) + " " + s.String())
}

// StatusLine describes a session status in one line of plain text.
//
// Example output:
//
//	reconnecting (attempt 2/3, retry in 2s): connection reset by peer
//	failed after 3 attempts: dial tcp: connection refused
func StatusLine(st session.Status, now time.Time) string {
	switch st.State {
	case session.StateConnecting:
		return fmt.Sprintf("connecting to %s", st.Target)
	case session.StateOpen:
		if st.LastMessage != "" {
			return "connected: " + st.LastMessage
		}
		return "connected"
	case session.StateReconnecting:
		line := fmt.Sprintf("reconnecting (attempt %d/%d, retry in %s)",
			st.Attempt, st.MaxAttempts, FormatCountdown(st.RetryIn(now)))
		return withReason(line, st)
	case session.StateFailed:
		line := "failed"
		if st.Attempt > 0 {
			line = fmt.Sprintf("failed after %d attempts", st.Attempt)
		}
		return withReason(line, st)
	case session.StateClosedByUser:
		return "disconnected"
	default:
		return "not connected"
	}
}

// ErrorText returns the most useful error message in a status, preferring
// one reported by the server.
func ErrorText(st session.Status) string {
	if st.LastError != nil && st.LastError.Message != "" {
		return st.LastError.Message
	}
	return st.Reason
}

func withReason(line string, st session.Status) string {
	if msg := ErrorText(st); msg != "" {
		return line + ": " + msg
	}
	return line
}
