package ui

// Unicode symbols for status indicators.
const (
	SymbolSuccess  = "✓"
	SymbolFail     = "✗"
	SymbolPending  = "○"
	SymbolProgress = "◐"
	SymbolComplete = "●"
	SymbolSkipped  = "⊘"
	SymbolRetry    = "↻"
)

// SymbolAbsent stands in for a reading the backend did not report.
const SymbolAbsent = "—"
