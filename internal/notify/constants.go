// Package notify delivers noise alerts to external channels.
package notify

import "time"

// AppName is the application name used in notifications.
const AppName = "Class Calm"

// Event names used in webhook payloads and alert log entries.
const (
	EventNoiseAlert = "noise_alert"
	EventTest       = "test"
)

// timestampUTC returns t in UTC RFC3339 format.
func timestampUTC(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
