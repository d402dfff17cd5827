package eventlog

import (
	"log/slog"
	"time"

	"github.com/doananhminh-dev/Class-calm/internal/meter"
)

// Observer records session lifecycle and noise transitions. It implements meter.Observer.
type Observer struct {
	log *Logger
}

var _ meter.Observer = (*Observer)(nil)

// NewObserver returns an observer writing to l.
func NewObserver(l *Logger) *Observer {
	return &Observer{log: l}
}

// SessionStarted implements meter.Observer.
func (o *Observer) SessionStarted(session string, at time.Time) {
	o.write(o.log.LogSession(SessionStarted, session, at, 0, ""))
}

// SessionStopped implements meter.Observer. A session ended by a capture
// failure is recorded as failed.
func (o *Observer) SessionStopped(session string, at time.Time, alerts int64, cause error) {
	if cause != nil {
		o.write(o.log.LogSession(SessionFailed, session, at, alerts, cause.Error()))
		return
	}
	o.write(o.log.LogSession(SessionStopped, session, at, alerts, ""))
}

// FrameProcessed implements meter.Observer. Only transitions are written.
func (o *Observer) FrameProcessed(session string, step *meter.Step) {
	d := step.Detector
	switch {
	case d.JustEntered:
		o.write(o.log.LogNoise(ExceedingStarted, session, step.At, step.Smoothed, step.Limit, 0))
	case d.JustCleared:
		o.write(o.log.LogNoise(ExceedingCleared, session, step.At, step.Smoothed, step.Limit, d.TotalDurationMs))
	}
	if step.Alert.Fired {
		o.write(o.log.LogNoise(AlertFired, session, step.At, step.Smoothed, step.Limit, d.DurationMs))
	}
}

// LimitChanged records a limit change for session.
func (o *Observer) LimitChanged(session string, at time.Time, from, to float64) {
	o.write(o.log.Log(&Event{
		Timestamp: at,
		Type:      LimitChanged,
		Session:   session,
		Details:   &LimitDetails{Limit: to, PreviousLimit: from},
	}))
}

func (o *Observer) write(err error) {
	if err != nil {
		slog.Warn("failed to write event log", "path", o.log.Path(), "error", err)
	}
}
