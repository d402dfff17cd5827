package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/doananhminh-dev/Class-calm/internal/audio"
)

// Config holds the alert timing.
type Config struct {
	Duration  time.Duration // how long an alert stays active
	Cooldown  time.Duration // minimum time between firings, measured from the previous firing
	VibrateMs int           // vibration length passed to actuators
}

// DefaultConfig returns the standard alert timing.
func DefaultConfig() Config {
	return Config{
		Duration:  audio.DefaultAlertDuration,
		Cooldown:  audio.DefaultCooldown,
		VibrateMs: audio.DefaultVibrateMs,
	}
}

// Decision is the result of a dispatcher update.
type Decision struct {
	Fired  bool // an alert was triggered on this update
	Active bool // an alert is currently showing
}

// Dispatcher fires alerts for sustained exceedances, rate-limited by a cooldown.
// An alert is never triggered while another is active.
// It is safe for concurrent use.
type Dispatcher struct {
	actuator Actuator
	session  string

	mu        sync.Mutex
	cfg       Config
	lastFired time.Time
	fired     bool
	count     int64
}

// NewDispatcher creates a dispatcher that triggers actuator. A nil actuator is replaced by Noop.
func NewDispatcher(session string, actuator Actuator, cfg Config) *Dispatcher {
	if actuator == nil {
		actuator = Noop{}
	}
	return &Dispatcher{
		actuator: actuator,
		session:  session,
		cfg:      cfg,
	}
}

// SetConfig replaces the timing parameters.
func (d *Dispatcher) SetConfig(cfg Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
}

// Update evaluates one pipeline iteration. The actuator is called outside the
// lock and its error is logged, never returned.
func (d *Dispatcher) Update(ctx context.Context, sustained bool, level, limit float64, now time.Time) Decision {
	d.mu.Lock()
	active := d.activeLocked(now)
	fire := sustained && !active && (!d.fired || now.Sub(d.lastFired) >= d.cfg.Cooldown)
	if fire {
		d.lastFired = now
		d.fired = true
		d.count++
		active = true
	}
	vibrate := d.cfg.VibrateMs
	d.mu.Unlock()

	if fire {
		a := Alert{At: now, Session: d.session, Level: level, Limit: limit, VibrateMs: vibrate}
		if err := d.actuator.Trigger(ctx, a); err != nil {
			slog.Warn("alert actuator failed", "session", d.session, "error", err)
		}
	}

	return Decision{Fired: fire, Active: active}
}

// Active reports whether an alert is showing at now.
func (d *Dispatcher) Active(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activeLocked(now)
}

func (d *Dispatcher) activeLocked(now time.Time) bool {
	return d.fired && now.Sub(d.lastFired) < d.cfg.Duration
}

// LastFired returns the time of the most recent firing, zero if none.
func (d *Dispatcher) LastFired() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.fired {
		return time.Time{}
	}
	return d.lastFired
}

// Count returns the number of alerts fired since the last reset.
func (d *Dispatcher) Count() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// Reset clears the active alert and the cooldown.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastFired = time.Time{}
	d.fired = false
	d.count = 0
}
