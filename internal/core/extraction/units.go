package extraction

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxTitleRunes = 50
	defaultTitle  = "Care Task"
)

// offsetHours converts an instruction offset to hours. Unknown units count as
// a flat hour.
func offsetHours(value float64, unit string) float64 {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "minute", "minutes":
		return value / 60
	case "hour", "hours":
		return value
	case "day", "days":
		return value * 24
	case "week", "weeks":
		return value * 24 * 7
	default:
		return 1
	}
}

func hoursToDuration(hours float64) time.Duration {
	return time.Duration(math.Round(hours * float64(time.Hour)))
}

func formatDuration(value float64, unit string) string {
	unit = strings.ToLower(strings.TrimSpace(unit))
	if value <= 0 || unit == "" {
		return "As needed"
	}
	singular := strings.TrimSuffix(unit, "s")
	amount := trimFloat(value)
	if value > 1 {
		return fmt.Sprintf("%s %ss", amount, singular)
	}
	return fmt.Sprintf("%s %s", amount, singular)
}

func trimFloat(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}

// taskTitle keeps short messages as-is and ellipsizes long ones to 50 runes.
func taskTitle(message string) string {
	message = strings.TrimSpace(message)
	if message == "" {
		return defaultTitle
	}
	if utf8.RuneCountInString(message) <= maxTitleRunes {
		return message
	}
	runes := []rune(message)
	return string(runes[:maxTitleRunes-3]) + "..."
}

func clampConfidence(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
