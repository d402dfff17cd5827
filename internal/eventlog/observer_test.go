package eventlog

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/doananhminh-dev/Class-calm/internal/alert"
	"github.com/doananhminh-dev/Class-calm/internal/audio"
	"github.com/doananhminh-dev/Class-calm/internal/meter"
)

func TestObserverWritesTransitions(t *testing.T) {
	l := newTestLogger(t)
	o := NewObserver(l)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	o.SessionStarted("monitor", base)
	// Quiet frames are not written.
	o.FrameProcessed("monitor", &meter.Step{At: base, Smoothed: 20, Limit: 60})
	o.FrameProcessed("monitor", &meter.Step{
		At: base.Add(time.Second), Smoothed: 61, Limit: 60,
		Detector: audio.DetectorEvent{JustEntered: true},
	})
	o.FrameProcessed("monitor", &meter.Step{
		At: base.Add(3 * time.Second), Smoothed: 66, Limit: 60,
		Detector: audio.DetectorEvent{DurationMs: 2000, Sustained: true},
		Alert:    alert.Decision{Fired: true, Active: true},
	})
	o.FrameProcessed("monitor", &meter.Step{
		At: base.Add(6 * time.Second), Smoothed: 50, Limit: 60,
		Detector: audio.DetectorEvent{JustCleared: true, TotalDurationMs: 5000},
	})
	o.LimitChanged("monitor", base.Add(7*time.Second), 60, 70)
	o.SessionStopped("monitor", base.Add(8*time.Second), 1, nil)

	events, _, err := ReadLast(l.Path(), 20, 0, FilterAll)
	require.NoError(t, err)

	types := make([]EventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	require.Equal(t, []EventType{
		SessionStopped, LimitChanged, ExceedingCleared, AlertFired, ExceedingStarted, SessionStarted,
	}, types)
	require.Equal(t, "monitor", events[0].Session)

	limit := events[1].Details.(map[string]any)
	require.InDelta(t, 70.0, limit["limit"], 1e-9)
	require.InDelta(t, 60.0, limit["previous_limit"], 1e-9)
	require.NotContains(t, limit, "level")
}

func TestObserverClosesExceedanceOnFlush(t *testing.T) {
	l := newTestLogger(t)
	o := NewObserver(l)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	o.FrameProcessed("monitor", &meter.Step{
		At: base, Smoothed: 64, Limit: 60,
		Detector: audio.DetectorEvent{JustEntered: true},
	})
	o.FrameProcessed("monitor", &meter.Step{
		At: base.Add(2 * time.Second), Smoothed: 64, Limit: 60, Flush: true,
		Detector: audio.DetectorEvent{JustCleared: true, TotalDurationMs: 2000},
	})
	o.SessionStopped("monitor", base.Add(2*time.Second), 0, errors.New("capture device stopped"))

	events, _, err := ReadLast(l.Path(), 20, 0, FilterAll)
	require.NoError(t, err)
	require.Len(t, events, 3)

	require.Equal(t, SessionFailed, events[0].Type)
	require.Equal(t, "capture device stopped", events[0].Details.(map[string]any)["error"])

	require.Equal(t, ExceedingCleared, events[1].Type)
	cleared := events[1].Details.(map[string]any)
	require.InDelta(t, 2000.0, cleared["duration_ms"], 1e-9)
	require.InDelta(t, 60.0, cleared["limit"], 1e-9)
}
