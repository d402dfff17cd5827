package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/doananhminh-dev/Class-calm/internal/alert"
	"github.com/doananhminh-dev/Class-calm/internal/audio"
	"github.com/doananhminh-dev/Class-calm/internal/meter"
)

func TestObserverUpdatesCollectors(t *testing.T) {
	m := New(func() int { return 2 })
	now := time.Now()

	m.SessionStarted("monitor", now)
	require.InDelta(t, 1.0, testutil.ToFloat64(m.running.WithLabelValues("monitor")), 1e-9)

	m.FrameProcessed("monitor", &meter.Step{
		At: now, Raw: 70, Smoothed: 64, Limit: 60,
		Detector: audio.DetectorEvent{InstantOver: true, JustEntered: true},
		Alert:    alert.Decision{Fired: true, Active: true},
	})
	m.FrameProcessed("monitor", &meter.Step{At: now, Invalid: true, Limit: 60})
	m.FrameProcessed("monitor", &meter.Step{
		At: now, Smoothed: 40, Limit: 60,
		Detector: audio.DetectorEvent{JustCleared: true, TotalDurationMs: 2500},
	})

	require.InDelta(t, 3.0, testutil.ToFloat64(m.frames.WithLabelValues("monitor")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(m.invalid.WithLabelValues("monitor")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(m.alerts.WithLabelValues("monitor")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(m.exceedances.WithLabelValues("monitor")), 1e-9)
	require.InDelta(t, 40.0, testutil.ToFloat64(m.level.WithLabelValues("monitor")), 1e-9)
	require.InDelta(t, 0.0, testutil.ToFloat64(m.exceeding.WithLabelValues("monitor")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(m.exceedDurSec))

	m.SessionStopped("monitor", now, 1, nil)
	require.InDelta(t, 0.0, testutil.ToFloat64(m.running.WithLabelValues("monitor")), 1e-9)
}

func TestFlushStepClosesExceedance(t *testing.T) {
	m := New(func() int { return 1 })
	now := time.Now()

	m.FrameProcessed("monitor", &meter.Step{
		At: now, Raw: 70, Smoothed: 64, Limit: 60,
		Detector: audio.DetectorEvent{InstantOver: true, JustEntered: true},
	})
	m.FrameProcessed("monitor", &meter.Step{
		At: now.Add(1200 * time.Millisecond), Smoothed: 64, Limit: 60, Flush: true,
		Detector: audio.DetectorEvent{JustCleared: true, TotalDurationMs: 1200},
	})

	require.InDelta(t, 1.0, testutil.ToFloat64(m.frames.WithLabelValues("monitor")), 1e-9,
		"a flush is not a frame")
	require.InDelta(t, 0.0, testutil.ToFloat64(m.exceeding.WithLabelValues("monitor")), 1e-9)
	require.InDelta(t, 64.0, testutil.ToFloat64(m.level.WithLabelValues("monitor")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(m.exceedDurSec))
}

func TestHandler(t *testing.T) {
	m := New(func() int { return 1 })
	m.SessionStarted("badge", time.Now())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `classcalm_session_running{session="badge"} 1`)
	require.Contains(t, string(body), "classcalm_device_refs 1")
}
