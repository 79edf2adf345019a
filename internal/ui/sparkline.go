package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Sparkline block characters representing 8 vertical levels (lowest to highest).
const sparklineBlocks = "▁▂▃▄▅▆▇█"

var sparklineBlockRunes = []rune(sparklineBlocks)

// RenderSparkline draws the most recent width values, scaled between their
// own min and max. The color follows the last value's percentage threshold:
//   - 0-60%: green
//   - 60-80%: amber
//   - 80-100%: red
func RenderSparkline(data []float64, width int) string {
	line := sparkline(data, width)
	if line == "" {
		return ""
	}
	color := ThresholdColor(data[len(data)-1])
	return lipgloss.NewStyle().Foreground(color).Render(line)
}

// RenderSparklineMuted draws a sparkline for values that are not
// percentages, such as byte counters or watts, in a neutral color.
func RenderSparklineMuted(data []float64, width int) string {
	line := sparkline(data, width)
	if line == "" {
		return ""
	}
	return lipgloss.NewStyle().Foreground(ColorInfo).Render(line)
}

func sparkline(data []float64, width int) string {
	if len(data) == 0 || width <= 0 {
		return ""
	}
	if len(data) > width {
		data = data[len(data)-width:]
	}

	minVal, maxVal := data[0], data[0]
	for _, v := range data {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}

	var sb strings.Builder
	sb.Grow(len(data) * 3)

	numLevels := len(sparklineBlockRunes)
	valueRange := maxVal - minVal
	for _, v := range data {
		level := numLevels / 2
		if valueRange != 0 {
			level = int((v - minVal) / valueRange * float64(numLevels-1))
			if level < 0 {
				level = 0
			} else if level >= numLevels {
				level = numLevels - 1
			}
		}
		sb.WriteRune(sparklineBlockRunes[level])
	}
	return sb.String()
}

// ThresholdColor maps a percentage to green, amber or red.
func ThresholdColor(percent float64) lipgloss.Color {
	switch {
	case percent >= 80:
		return ColorError
	case percent >= 60:
		return ColorWarning
	default:
		return ColorSuccess
	}
}
