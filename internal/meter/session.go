// Package meter runs noise meter sessions: it reads frames from the shared
// microphone, drives the processing pipeline and publishes telemetry.
package meter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/doananhminh-dev/Class-calm/internal/alert"
	"github.com/doananhminh-dev/Class-calm/internal/audio"
	"github.com/doananhminh-dev/Class-calm/internal/capture"
	"github.com/doananhminh-dev/Class-calm/internal/types"
	"github.com/doananhminh-dev/Class-calm/internal/util"
)

// Session lifecycle errors.
var (
	ErrLoopTimeout   = errors.New("meter loop did not stop in time")
	ErrStillStopping = errors.New("meter session is still stopping")
)

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the wall clock, for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Session) { s.clock = clock }
}

// WithInterval sets the processing tick.
func WithInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithStopTimeout bounds how long Stop waits for the processing loop.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(s *Session) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithExceedingMode selects which detector flag drives the exceeding indicator.
func WithExceedingMode(mode types.ExceedingMode) Option {
	return func(s *Session) { s.mode = mode }
}

// Session is one consumer of the shared microphone with its own pipeline state.
type Session struct {
	name     string
	shared   *capture.Shared
	actuator alert.Actuator
	clock    func() time.Time
	interval time.Duration
	mode     types.ExceedingMode
	observer Observer

	stopTimeout time.Duration

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex
	// stepMu orders pipeline steps with their observer callbacks.
	stepMu sync.Mutex

	mu            sync.RWMutex
	state         types.MeterState
	limit         float64
	handle        *capture.Handle
	pipeline      *Pipeline
	cancel        context.CancelFunc
	done          chan struct{}
	startTime     time.Time
	lastError     string
	invalidFrames int64
	telemetry     types.Telemetry
	lastKnown     atomic.Pointer[types.Telemetry] // Cache for TryRLock fallback
}

// New creates a stopped session that reads from shared and alerts through actuator.
func New(name string, shared *capture.Shared, actuator alert.Actuator, opts ...Option) *Session {
	s := &Session{
		name:     name,
		shared:   shared,
		actuator: actuator,
		clock:    time.Now,
		interval: audio.DefaultFrameInterval,
		mode:     types.ModeSustained,
		observer: nopObserver{},
		state:    types.StateStopped,
		limit:    audio.DefaultLimit,

		stopTimeout: types.ShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setTelemetry(s.idleTelemetry())
	return s
}

// Name returns the session name.
func (s *Session) Name() string {
	return s.name
}

// State returns the current lifecycle state.
func (s *Session) State() types.MeterState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsRunning reports whether the session is processing audio.
func (s *Session) IsRunning() bool {
	return s.State() == types.StateRunning
}

// Start acquires the microphone and begins processing. Starting a running
// session is a no-op. If the microphone cannot be opened the session stays
// stopped and the capture error is returned.
func (s *Session) Start(ctx context.Context, cfg audio.MeterConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	switch s.state {
	case types.StateRunning:
		s.mu.Unlock()
		return nil
	case types.StateStopping:
		s.mu.Unlock()
		return ErrStillStopping
	}
	s.state = types.StateStarting
	s.mu.Unlock()

	handle, err := s.shared.Acquire(ctx)
	if err != nil {
		s.mu.Lock()
		s.state = types.StateStopped
		s.lastError = err.Error()
		s.setTelemetry(s.idleTelemetry())
		s.mu.Unlock()
		slog.Warn("meter session failed to start", "session", s.name, "error", err)
		return util.WrapError("acquire microphone", err)
	}

	pipeline := NewPipeline(s.name, cfg, s.actuator)
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	now := s.clock()

	s.mu.Lock()
	s.state = types.StateRunning
	s.limit = cfg.Limit
	s.handle = handle
	s.pipeline = pipeline
	s.cancel = cancel
	s.done = done
	s.startTime = now
	s.lastError = ""
	s.invalidFrames = 0
	s.setTelemetry(s.idleTelemetry())
	s.mu.Unlock()

	slog.Info("meter session started", "session", s.name, "limit", cfg.Limit, "mode", s.mode)
	s.observer.SessionStarted(s.name, now)

	go s.run(loopCtx, handle, pipeline, done)
	return nil
}

// Stop halts processing, releases the microphone and zeroes the telemetry.
// Stopping a stopped session is a no-op. If the loop does not exit within
// the stop timeout, Stop returns ErrLoopTimeout and the session stays
// stopping, holding the microphone, until the loop is gone. Meanwhile Start
// and Stop return ErrStillStopping.
func (s *Session) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.stopLocked(nil)
}

// abort stops the session after its microphone failed. done identifies the
// run that saw the failure, so a session restarted since then is left alone.
func (s *Session) abort(done chan struct{}, cause error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.RLock()
	current := s.done == done && s.state == types.StateRunning
	s.mu.RUnlock()
	if !current {
		return
	}

	slog.Error("meter session lost the microphone", "session", s.name, "error", cause)
	if err := s.stopLocked(cause); err != nil {
		slog.Warn("meter session teardown failed", "session", s.name, "error", err)
	}
}

// stopLocked cancels the loop and finishes the teardown once it has exited.
// cause is recorded as the last error. Callers hold s.lifecycle.
func (s *Session) stopLocked(cause error) error {
	s.mu.Lock()
	switch s.state {
	case types.StateRunning:
	case types.StateStopping:
		s.mu.Unlock()
		return ErrStillStopping
	default:
		s.mu.Unlock()
		return nil
	}
	s.state = types.StateStopping
	s.telemetry.State = s.state
	s.setTelemetry(s.telemetry)
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
		return s.finish(cause)
	case <-time.After(s.stopTimeout):
	}

	slog.Warn("meter loop did not stop in time, keeping the microphone until it exits",
		"session", s.name, "timeout", s.stopTimeout)
	go func() {
		<-done
		s.lifecycle.Lock()
		defer s.lifecycle.Unlock()
		if err := s.finish(cause); err != nil {
			slog.Warn("meter session teardown failed", "session", s.name, "error", err)
		}
	}()
	return ErrLoopTimeout
}

// finish releases what the exited loop used and publishes the stopped state.
// An exceedance still open is closed for the observers first.
// Callers hold s.lifecycle.
func (s *Session) finish(cause error) error {
	s.mu.RLock()
	handle, pipeline := s.handle, s.pipeline
	s.mu.RUnlock()

	var err error
	if closeErr := handle.Close(); closeErr != nil {
		err = fmt.Errorf("release microphone: %w", closeErr)
	}

	now := s.clock()
	alerts := pipeline.AlertCount()
	flush := pipeline.Reset(now)

	s.mu.Lock()
	s.state = types.StateStopped
	s.handle = nil
	s.pipeline = nil
	s.cancel = nil
	s.done = nil
	if cause != nil {
		s.lastError = cause.Error()
	}
	s.setTelemetry(s.idleTelemetry())
	s.mu.Unlock()

	if flush != nil {
		s.observer.FrameProcessed(s.name, flush)
	}
	slog.Info("meter session stopped", "session", s.name, "alerts", alerts)
	s.observer.SessionStopped(s.name, now, alerts, cause)
	return err
}

// CheckLimit reports whether SetLimit would accept limit.
func (s *Session) CheckLimit(limit float64) error {
	if err := audio.ValidateLimit(limit); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pipeline != nil {
		return s.pipeline.CheckLimit(limit)
	}
	return nil
}

// SetLimit changes the alert limit. A running session restarts threshold
// detection; the smoothed level and the alert cooldown are kept. An open
// exceedance is reported to the observers as cleared under the old limit.
func (s *Session) SetLimit(limit float64) error {
	if err := audio.ValidateLimit(limit); err != nil {
		return err
	}

	s.stepMu.Lock()
	defer s.stepMu.Unlock()

	s.mu.Lock()
	var flush *Step
	if s.pipeline != nil {
		var err error
		if flush, err = s.pipeline.SetLimit(limit, s.clock()); err != nil {
			s.mu.Unlock()
			return err
		}
		s.telemetry.Exceeding = false
		s.telemetry.InstantOver = false
		s.telemetry.Sustained = false
		s.telemetry.ExceedingMs = 0
	}
	s.limit = limit
	s.telemetry.Limit = limit
	s.setTelemetry(s.telemetry)
	s.mu.Unlock()

	if flush != nil {
		s.observer.FrameProcessed(s.name, flush)
	}
	return nil
}

// Limit returns the current limit.
func (s *Session) Limit() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limit
}

// Telemetry returns the current observable state. It never blocks on the
// processing loop; under contention the last published value is returned.
func (s *Session) Telemetry() types.Telemetry {
	if !s.mu.TryRLock() {
		return *s.lastKnown.Load()
	}
	defer s.mu.RUnlock()

	t := s.telemetry
	if s.state == types.StateRunning {
		t.Uptime = util.FormatDuration(s.clock().Sub(s.startTime))
	}
	return t
}

// DisplayedLevel returns the rounded smoothed level, 0 when stopped.
func (s *Session) DisplayedLevel() int {
	return s.Telemetry().Level
}

// IsExceeding reports the exceeding indicator for the session's mode.
func (s *Session) IsExceeding() bool {
	return s.Telemetry().Exceeding
}

// IsAlertActive reports whether an alert is showing.
func (s *Session) IsAlertActive() bool {
	return s.Telemetry().AlertActive
}

// MicActive reports whether the session holds the microphone.
func (s *Session) MicActive() bool {
	return s.Telemetry().MicActive
}

// run processes frames until ctx is cancelled. When the microphone fails the
// loop exits and hands the teardown to abort.
func (s *Session) run(ctx context.Context, h *capture.Handle, p *Pipeline, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := s.clock()
		frame, ok := h.ReadFrame()
		if !ok {
			if err := h.Err(); err != nil {
				go s.abort(done, err)
				return
			}
			s.refreshAlert(p, now)
			continue
		}

		s.stepMu.Lock()
		step := p.Process(ctx, frame, now)
		s.publish(&step)
		s.observer.FrameProcessed(s.name, &step)
		s.stepMu.Unlock()
	}
}

// publish stores the telemetry for one step.
func (s *Session) publish(step *Step) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A Stop may have raced with the last iteration.
	if s.state != types.StateRunning {
		return
	}
	if step.Invalid {
		s.invalidFrames++
	}

	exceeding := step.Detector.Sustained
	if s.mode == types.ModeInstant {
		exceeding = step.Detector.InstantOver
	}

	s.setTelemetry(types.Telemetry{
		Session:       s.name,
		State:         s.state,
		Mode:          s.mode,
		Level:         step.Display,
		Smoothed:      step.Smoothed,
		Raw:           step.Raw,
		Peak:          step.Peak,
		Limit:         step.Limit,
		Exceeding:     exceeding,
		InstantOver:   step.Detector.InstantOver,
		Sustained:     step.Detector.Sustained,
		ExceedingMs:   step.Detector.DurationMs,
		AlertActive:   step.Alert.Active,
		AlertCount:    s.pipeline.AlertCount(),
		LastAlert:     s.pipeline.LastAlert(),
		MicActive:     true,
		InvalidFrames: s.invalidFrames,
	})
}

// refreshAlert expires the alert flag while no new audio arrives.
func (s *Session) refreshAlert(p *Pipeline, now time.Time) {
	active := p.AlertActive(now)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != types.StateRunning || s.telemetry.AlertActive == active {
		return
	}
	s.telemetry.AlertActive = active
	s.setTelemetry(s.telemetry)
}

// setTelemetry publishes t. Callers hold s.mu or own s exclusively.
func (s *Session) setTelemetry(t types.Telemetry) {
	s.telemetry = t
	s.lastKnown.Store(&t)
}

// idleTelemetry is the telemetry of a session without a running pipeline.
// Callers hold s.mu or own s exclusively.
func (s *Session) idleTelemetry() types.Telemetry {
	return types.Telemetry{
		Session:   s.name,
		State:     s.state,
		Mode:      s.mode,
		Limit:     s.limit,
		MicActive: s.state == types.StateRunning,
		LastError: s.lastError,
	}
}
