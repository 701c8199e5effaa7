package utils

import (
	"fmt"
	"time"
)

// ForceUTC reinterprets a timestamp's wall-clock reading as UTC rather
// than the process's local zone. Mixing locally-interpreted and UTC
// values has caused entire exit branches to fail to fire in production.
// Any value not already in UTC keeps its wall-clock fields and is
// relabelled UTC (it is not converted); values already in UTC are
// returned unchanged.
func ForceUTC(t time.Time) time.Time {
	if t.Location() == time.UTC {
		return t
	}
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	return time.Date(y, m, d, hh, mm, ss, t.Nanosecond(), time.UTC)
}

// UnixMillis returns the current time in Unix milliseconds.
func UnixMillis() int64 {
	return time.Now().UnixMilli()
}

// FromUnixMillis converts Unix milliseconds back to a UTC time.Time.
func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// FormatDuration renders a duration the way operator-facing log lines in
// this codebase do: "45s", "5m30s", "2h15m", "3d5h".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}

	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		if hours > 0 {
			return fmt.Sprintf("%dd%dh", days, hours)
		}
		return fmt.Sprintf("%dd", days)
	case hours > 0:
		if minutes > 0 {
			return fmt.Sprintf("%dh%dm", hours, minutes)
		}
		return fmt.Sprintf("%dh", hours)
	case minutes > 0:
		if seconds > 0 {
			return fmt.Sprintf("%dm%ds", minutes, seconds)
		}
		return fmt.Sprintf("%dm", minutes)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// TimeRange is a closed [Start, End] interval.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls within the range, inclusive.
func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.Start) && !t.After(tr.End)
}

// Duration returns the range's length.
func (tr TimeRange) Duration() time.Duration {
	return tr.End.Sub(tr.Start)
}
