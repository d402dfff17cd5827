package util

import (
	"fmt"
	"time"
)

// HumanTimeFormat is the layout for timestamps shown to people, in local time.
const HumanTimeFormat = "2 Jan 2006 15:04:05 MST"

// FormatHumanTime formats t in local time with HumanTimeFormat.
func FormatHumanTime(t time.Time) string {
	return t.Local().Format(HumanTimeFormat)
}

// FormatBuildTime converts an RFC3339 build stamp for display. Unset or
// unparseable stamps are returned as given.
func FormatBuildTime(rfc3339 string) string {
	if rfc3339 == "" || rfc3339 == "unknown" {
		return "unknown"
	}
	t, err := time.Parse(time.RFC3339, rfc3339)
	if err != nil {
		return rfc3339
	}
	return FormatHumanTime(t)
}

// FormatDuration formats d as "45s", "2m 34s" or "1h 23m".
// Durations under a second render as "0s".
func FormatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
