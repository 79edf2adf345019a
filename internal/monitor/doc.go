// Package monitor implements a real-time TUI dashboard for one deployment's
// telemetry stream.
//
// The dashboard shows the latest reading for each metric, a sparkline over
// the rolling history, and the state of the underlying session: a badge,
// the retry countdown while reconnecting, and an error banner.
//
// # Architecture
//
// The package uses the Bubble Tea framework (Model-Update-View):
//
//   - Model: the Source being watched plus what was last read from it
//   - Update: keystrokes, window sizes, clock ticks and source updates
//   - View: renders the current state to a string
//
// # Message Flow
//
// Source callbacks run on the session's dispatcher goroutine, never on the
// Bubble Tea loop. They only signal a one-slot channel; waitForUpdate turns
// that signal into an updateMsg and the model re-reads the Source. A
// one-second tick keeps the retry countdown moving between events.
//
// # Keys
//
//	q / Ctrl+C  quit
//	r           reconnect after the session failed or was closed
//	?           toggle help
package monitor
