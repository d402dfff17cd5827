package meter

import "time"

// Observer receives session lifecycle and per-iteration notifications.
// Calls are made synchronously from the session goroutines and must not block.
// SessionStopped carries the capture failure that ended the session, nil
// when it was stopped on request.
type Observer interface {
	SessionStarted(session string, at time.Time)
	SessionStopped(session string, at time.Time, alerts int64, cause error)
	FrameProcessed(session string, step *Step)
}

// Observers fans notifications out to several observers.
type Observers []Observer

// SessionStarted implements Observer.
func (o Observers) SessionStarted(session string, at time.Time) {
	for _, obs := range o {
		obs.SessionStarted(session, at)
	}
}

// SessionStopped implements Observer.
func (o Observers) SessionStopped(session string, at time.Time, alerts int64, cause error) {
	for _, obs := range o {
		obs.SessionStopped(session, at, alerts, cause)
	}
}

// FrameProcessed implements Observer.
func (o Observers) FrameProcessed(session string, step *Step) {
	for _, obs := range o {
		obs.FrameProcessed(session, step)
	}
}

type nopObserver struct{}

func (nopObserver) SessionStarted(string, time.Time)               {}
func (nopObserver) SessionStopped(string, time.Time, int64, error) {}
func (nopObserver) FrameProcessed(string, *Step)                   {}
