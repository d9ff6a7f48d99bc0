package util //nolint:revive // package name util hosts shared formatting helpers for CLI output

import "time"

// FormatDuration formats a duration for display. Zero or negative durations render as "-".
func FormatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Millisecond:
		return d.String()
	case d < time.Minute:
		return d.Truncate(time.Millisecond).String()
	default:
		return d.Truncate(time.Second).String()
	}
}

// FormatElapsed returns the time between start and end. A nil end measures against now,
// which covers jobs that are still running. A nil start renders as "-".
func FormatElapsed(start, end *time.Time, now time.Time) string {
	if start == nil {
		return "-"
	}
	stop := now
	if end != nil {
		stop = *end
	}
	return FormatDuration(stop.Sub(*start))
}
