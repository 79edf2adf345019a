package monitor

import (
	"fmt"

	"github.com/rileyhilliard/gpuctl/internal/frame"
	"github.com/rileyhilliard/gpuctl/internal/ui"
)

// row is one line of the readings panel.
type row struct {
	label   string
	series  frame.Field
	percent bool
	value   func(s frame.MetricsSample) string
}

var rows = []row{
	{"GPU util", frame.FieldGPUUtilization, true, percentOf(frame.FieldGPUUtilization)},
	{"GPU memory", frame.FieldGPUMemoryPercent, true, usage(frame.FieldGPUMemoryUsed, frame.FieldGPUMemoryTotal, frame.FieldGPUMemoryPercent)},
	{"GPU temp", frame.FieldGPUTemperature, false, unitOf(frame.FieldGPUTemperature, "%.0f°C")},
	{"GPU power", frame.FieldGPUPowerDraw, false, unitOf(frame.FieldGPUPowerDraw, "%.0f W")},
	{"CPU", frame.FieldCPUPercent, true, percentOf(frame.FieldCPUPercent)},
	{"Memory", frame.FieldMemoryPercent, true, usage(frame.FieldMemoryUsed, frame.FieldMemoryTotal, frame.FieldMemoryPercent)},
	{"Disk", frame.FieldDiskPercent, true, usage(frame.FieldDiskUsed, frame.FieldDiskTotal, frame.FieldDiskPercent)},
	{"Net rx", frame.FieldNetworkRxBytes, false, bytesOf(frame.FieldNetworkRxBytes)},
	{"Net tx", frame.FieldNetworkTxBytes, false, bytesOf(frame.FieldNetworkTxBytes)},
}

func percentOf(f frame.Field) func(frame.MetricsSample) string {
	return func(s frame.MetricsSample) string {
		v, ok := s.Value(f)
		if !ok {
			return ui.SymbolAbsent
		}
		return fmt.Sprintf("%.1f%%", v)
	}
}

func unitOf(f frame.Field, format string) func(frame.MetricsSample) string {
	return func(s frame.MetricsSample) string {
		v, ok := s.Value(f)
		if !ok {
			return ui.SymbolAbsent
		}
		return fmt.Sprintf(format, v)
	}
}

func bytesOf(f frame.Field) func(frame.MetricsSample) string {
	return func(s frame.MetricsSample) string {
		v, ok := s.Value(f)
		if !ok {
			return ui.SymbolAbsent
		}
		return formatBytes(int64(v))
	}
}

// usage renders "used / total (pct)". Each part that was not reported is
// shown as absent on its own; a missing total never turns into zero.
func usage(used, total, pct frame.Field) func(frame.MetricsSample) string {
	return func(s frame.MetricsSample) string {
		u, uok := s.Value(used)
		t, tok := s.Value(total)
		p, pok := s.Value(pct)
		if !pok && uok && tok && t > 0 {
			p, pok = u/t*100, true
		}

		switch {
		case !uok && !tok && !pok:
			return ui.SymbolAbsent
		case !uok && !tok:
			return fmt.Sprintf("%.1f%%", p)
		}

		out := fmt.Sprintf("%s / %s", number(u, uok), number(t, tok))
		if pok {
			out += fmt.Sprintf(" (%.1f%%)", p)
		}
		return out
	}
}

func number(v float64, ok bool) string {
	if !ok {
		return ui.SymbolAbsent
	}
	switch {
	case v >= 1e6:
		return fmt.Sprintf("%.1fM", v/1e6)
	case v >= 1e4:
		return fmt.Sprintf("%.1fk", v/1e3)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"KB", "MB", "GB", "TB", "PB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), units[exp])
}
