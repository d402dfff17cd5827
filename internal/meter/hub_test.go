package meter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/doananhminh-dev/Class-calm/internal/audio"
	"github.com/doananhminh-dev/Class-calm/internal/capture"
	"github.com/doananhminh-dev/Class-calm/internal/types"
)

func TestHub(t *testing.T) {
	src := &dcSource{amp: 0.5}
	hub := NewHub(capture.NewShared(src))
	monitor, _ := newTestSession(SessionMonitor, hub.Shared())
	badge, _ := newTestSession(SessionBadge, hub.Shared(), WithExceedingMode(types.ModeInstant))

	require.NoError(t, hub.Add(monitor))
	require.NoError(t, hub.Add(badge))
	require.Error(t, hub.Add(monitor))
	require.Equal(t, []string{SessionMonitor, SessionBadge}, hub.Names())

	_, err := hub.Session("hallway")
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.ErrorIs(t, hub.Start(context.Background(), "hallway", loudConfig()), ErrSessionNotFound)

	require.NoError(t, hub.Start(context.Background(), SessionMonitor, loudConfig()))
	require.NoError(t, hub.Start(context.Background(), SessionBadge, loudConfig()))
	require.Equal(t, 2, hub.DeviceRefs())

	require.NoError(t, hub.SetLimit(45))
	require.ErrorIs(t, hub.SetLimit(120), audio.ErrConfigOutOfRange)

	require.Eventually(t, func() bool {
		tel := hub.Telemetry()
		return tel[SessionMonitor].Level == 50 && tel[SessionBadge].Exceeding
	}, time.Second, time.Millisecond)
	require.Equal(t, 45.0, hub.Telemetry()[SessionBadge].Limit)

	require.NoError(t, hub.Stop(SessionBadge))
	require.Equal(t, 1, hub.DeviceRefs())

	require.NoError(t, hub.StopAll())
	require.NoError(t, hub.StopAll())
	require.Zero(t, hub.DeviceRefs())
	for _, tel := range hub.Telemetry() {
		require.Equal(t, types.StateStopped, tel.State)
		require.Zero(t, tel.Level)
	}
}

func TestHubSetLimitAllOrNothing(t *testing.T) {
	hub := NewHub(capture.NewShared(&dcSource{amp: 0.5}))
	monitor, _ := newTestSession(SessionMonitor, hub.Shared())
	badge, _ := newTestSession(SessionBadge, hub.Shared())
	require.NoError(t, hub.Add(monitor))
	require.NoError(t, hub.Add(badge))
	t.Cleanup(func() { _ = hub.StopAll() })

	wide := loudConfig()
	wide.Limit = 90
	wide.Hysteresis = 50
	require.NoError(t, hub.Start(t.Context(), SessionBadge, wide))

	err := hub.SetLimit(45)
	require.ErrorIs(t, err, audio.ErrConfigOutOfRange)
	require.ErrorIs(t, hub.CheckLimit(45), audio.ErrConfigOutOfRange)
	require.Equal(t, 60.0, monitor.Limit(), "stopped session left untouched")
	require.Equal(t, 90.0, badge.Limit())

	require.NoError(t, hub.SetLimit(55))
	require.Equal(t, 55.0, monitor.Limit())
	require.Equal(t, 55.0, badge.Limit())
}
