package domain

import "time"

// TimeLayout is the wire format for every timestamp: ISO-8601 UTC,
// millisecond precision, literal trailing Z. Stored as TEXT so that
// lexicographic order equals chronological order.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in the wire format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a wire-format timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

// Now returns the current time truncated to millisecond precision in UTC,
// so a value round-trips through the wire format unchanged.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
