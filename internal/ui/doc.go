// Package ui provides the shared look of gpuctl's terminal output: the color
// palette, status symbols, session state badges and sparklines.
//
// Colors are lipgloss colors. Call DisableColors for --no-color; it switches
// the lipgloss profile to plain ASCII so every renderer in the process
// follows.
//
// Sparklines map values onto eight block characters:
//
//	ui.RenderSparkline([]float64{10, 40, 90}, 30) // ▁▃█ in red
//
// Percentage series are colored by the last value (green below 60, amber
// below 80, red above). Use RenderSparklineMuted for counters and other
// unbounded series.
package ui
