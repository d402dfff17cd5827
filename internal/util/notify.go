package util

import (
	"log/slog"
	"time"
)

// LogNotifyResult runs one alert delivery and logs its outcome with the
// channel, the session that fired and how long the delivery took.
func LogNotifyResult(fn func() error, channel, session string) {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		slog.Error("notification failed", "channel", channel, "session", session, "elapsed", elapsed, "error", err)
		return
	}
	slog.Info("notification sent", "channel", channel, "session", session, "elapsed", elapsed)
}
