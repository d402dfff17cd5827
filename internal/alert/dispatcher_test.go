package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const tick = 20 * time.Millisecond

type recorder struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *recorder) Trigger(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recorder) offsets(t0 time.Time) []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, 0, len(r.alerts))
	for _, a := range r.alerts {
		out = append(out, a.At.Sub(t0))
	}
	return out
}

func TestDispatcherCooldown(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Duration: 2 * time.Second, Cooldown: 3 * time.Second, VibrateMs: 200}
	rec := &recorder{}
	d := NewDispatcher("monitor", rec, cfg)
	t0 := time.Unix(1_700_000_000, 0)

	for now := t0; now.Before(t0.Add(3 * cfg.Cooldown)); now = now.Add(tick) {
		d.Update(ctx, true, 75, 60, now)
	}

	require.Equal(t, []time.Duration{0, 3 * time.Second, 6 * time.Second}, rec.offsets(t0))
	require.Equal(t, int64(3), d.Count())
	require.Equal(t, "monitor", rec.alerts[0].Session)
	require.Equal(t, 200, rec.alerts[0].VibrateMs)
	require.Equal(t, 75.0, rec.alerts[0].Level)
}

func TestDispatcherActiveWindow(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher("monitor", nil, Config{Duration: time.Second, Cooldown: 3 * time.Second})
	t0 := time.Unix(0, 0)

	dec := d.Update(ctx, true, 70, 60, t0)
	require.True(t, dec.Fired)
	require.True(t, dec.Active)

	dec = d.Update(ctx, true, 70, 60, t0.Add(999*time.Millisecond))
	require.False(t, dec.Fired)
	require.True(t, dec.Active)

	dec = d.Update(ctx, false, 40, 60, t0.Add(time.Second))
	require.False(t, dec.Active)
	require.False(t, d.Active(t0.Add(time.Second)))
	require.Equal(t, t0, d.LastFired())
}

func TestDispatcherNeverOverlaps(t *testing.T) {
	ctx := context.Background()
	// Cooldown shorter than the alert itself: the active window is the binding constraint.
	d := NewDispatcher("monitor", nil, Config{Duration: 2 * time.Second, Cooldown: 500 * time.Millisecond})
	t0 := time.Unix(0, 0)

	var fired []time.Duration
	for now := t0; now.Before(t0.Add(5 * time.Second)); now = now.Add(tick) {
		if d.Update(ctx, true, 70, 60, now).Fired {
			fired = append(fired, now.Sub(t0))
		}
	}
	require.Equal(t, []time.Duration{0, 2 * time.Second, 4 * time.Second}, fired)
}

func TestDispatcherNotSustained(t *testing.T) {
	d := NewDispatcher("monitor", nil, DefaultConfig())
	t0 := time.Unix(0, 0)
	for i := range 500 {
		require.False(t, d.Update(context.Background(), false, 99, 60, t0.Add(time.Duration(i)*tick)).Fired)
	}
	require.Zero(t, d.Count())
	require.True(t, d.LastFired().IsZero())
}

func TestDispatcherReset(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher("monitor", nil, DefaultConfig())
	t0 := time.Unix(0, 0)

	require.True(t, d.Update(ctx, true, 70, 60, t0).Fired)
	d.Reset()
	require.False(t, d.Active(t0))
	require.True(t, d.Update(ctx, true, 70, 60, t0.Add(tick)).Fired, "cooldown cleared by reset")
}

func TestDispatcherActuatorError(t *testing.T) {
	failing := Func(func(context.Context, Alert) error { return errors.New("motor jammed") })
	d := NewDispatcher("monitor", failing, DefaultConfig())

	dec := d.Update(context.Background(), true, 70, 60, time.Unix(0, 0))
	require.True(t, dec.Fired)
	require.True(t, dec.Active)
}

func TestMulti(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	errBoom := errors.New("boom")
	m := Multi{a, nil, Func(func(context.Context, Alert) error { return errBoom }), b}

	err := m.Trigger(context.Background(), Alert{Session: "monitor"})
	require.ErrorIs(t, err, errBoom)
	require.Len(t, a.alerts, 1)
	require.Len(t, b.alerts, 1)

	require.NoError(t, Noop{}.Trigger(context.Background(), Alert{}))
}
