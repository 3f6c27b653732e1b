package utils

import (
	"fmt"
	"time"
)

// TimestampLayout is the fixed-width layout of exchanged timestamps,
// e.g. "2024/01/01 00:00:00".
const TimestampLayout = "2006/01/02 15:04:05"

// FixedZone returns a location with the given offset from UTC. The zone name
// is derived from the offset, e.g. "UTC+09:00".
//
// Parameters:
//   - offset: Offset east of UTC; truncated to whole seconds
//
// Returns:
//   - A *time.Location with the fixed offset
func FixedZone(offset time.Duration) *time.Location {
	return time.FixedZone(ZoneName(offset), int(offset/time.Second))
}

// ZoneName formats an offset as "UTC+HH:MM" or "UTC-HH:MM".
func ZoneName(offset time.Duration) string {
	sign := '+'
	if offset < 0 {
		sign = '-'
		offset = -offset
	}

	hours := int(offset / time.Hour)
	minutes := int((offset % time.Hour) / time.Minute)
	return fmt.Sprintf("UTC%c%02d:%02d", sign, hours, minutes)
}

// FormatTimestamp renders t shifted to the fixed UTC offset using
// TimestampLayout.
//
// Parameters:
//   - t: The instant to format
//   - offset: Offset east of UTC (e.g. 9*time.Hour)
//
// Returns:
//   - The formatted timestamp, always 19 characters for years 1000-9999
func FormatTimestamp(t time.Time, offset time.Duration) string {
	return t.In(FixedZone(offset)).Format(TimestampLayout)
}
