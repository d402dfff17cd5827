package meter

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/doananhminh-dev/Class-calm/internal/alert"
	"github.com/doananhminh-dev/Class-calm/internal/audio"
)

// Step is the outcome of one pipeline iteration.
type Step struct {
	At       time.Time
	Raw      float64 // loudness reading before gating
	Smoothed float64 // unrounded smoothed level
	Display  int     // smoothed level rounded for presentation
	Peak     float64 // held peak of the smoothed level
	Limit    float64 // limit in effect for this iteration
	Invalid  bool    // the frame or reading was not finite and counted as 0
	Flush    bool    // no audio was processed; the step only closes an open exceedance
	Detector audio.DetectorEvent
	Alert    alert.Decision
}

// Pipeline chains the estimator, smoother, threshold detector and alert
// dispatcher. The calibration is fixed for its lifetime except for the limit.
// Process is called from a single goroutine; SetLimit may be called concurrently.
type Pipeline struct {
	smoothing audio.SmootherConfig
	gain      float64

	mu         sync.Mutex
	detection  audio.DetectorConfig
	smoother   audio.Smoother
	detector   *audio.ThresholdDetector
	dispatcher *alert.Dispatcher
	peak       *audio.PeakHolder
}

// NewPipeline creates a pipeline for cfg that fires alerts through actuator.
func NewPipeline(session string, cfg audio.MeterConfig, actuator alert.Actuator) *Pipeline {
	return &Pipeline{
		smoothing: cfg.Smoothing(),
		gain:      cfg.Gain,
		detection: cfg.Detection(),
		detector:  audio.NewThresholdDetector(),
		dispatcher: alert.NewDispatcher(session, actuator, alert.Config{
			Duration:  cfg.AlertDuration,
			Cooldown:  cfg.Cooldown,
			VibrateMs: audio.DefaultVibrateMs,
		}),
		peak: audio.NewPeakHolder(),
	}
}

// Process estimates the loudness of frame and advances the pipeline.
// An invalid frame counts as a zero reading.
func (p *Pipeline) Process(ctx context.Context, frame audio.SampleFrame, now time.Time) Step {
	raw, err := audio.Estimate(frame, p.gain)
	step := p.ProcessReading(ctx, raw, now)
	step.Invalid = step.Invalid || err != nil
	return step
}

// ProcessReading advances the pipeline with a raw loudness reading.
// NaN and infinite readings count as 0 and mark the step invalid.
func (p *Pipeline) ProcessReading(ctx context.Context, raw float64, now time.Time) Step {
	invalid := math.IsNaN(raw) || math.IsInf(raw, 0)
	if invalid {
		raw = 0
	}

	p.mu.Lock()
	smoothed := p.smoother.Update(audio.Clamp(raw), p.smoothing)
	display := p.smoother.Display()
	detection := p.detection
	event := p.detector.Update(smoothed, detection, now)
	p.mu.Unlock()

	decision := p.dispatcher.Update(ctx, event.Sustained, smoothed, detection.Limit, now)

	return Step{
		At:       now,
		Raw:      raw,
		Smoothed: smoothed,
		Display:  display,
		Peak:     p.peak.Update(smoothed, now),
		Limit:    detection.Limit,
		Invalid:  invalid,
		Detector: event,
		Alert:    decision,
	}
}

// flushLocked builds the step that reports a detector reset. It returns nil
// when no exceedance was open. Callers hold p.mu.
func (p *Pipeline) flushLocked(event audio.DetectorEvent, limit float64, now time.Time) *Step {
	if !event.JustCleared {
		return nil
	}
	return &Step{
		At:       now,
		Smoothed: p.smoother.Level(),
		Display:  p.smoother.Display(),
		Limit:    limit,
		Flush:    true,
		Detector: event,
	}
}

// CheckLimit reports whether SetLimit would accept limit.
func (p *Pipeline) CheckLimit(limit float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checkLimitLocked(limit)
}

func (p *Pipeline) checkLimitLocked(limit float64) error {
	if limit <= p.detection.Hysteresis {
		return fmt.Errorf("%w: limit %.1f must exceed hysteresis %.1f", audio.ErrConfigOutOfRange, limit, p.detection.Hysteresis)
	}
	return nil
}

// SetLimit changes the limit at now. The detector restarts from idle; the
// smoothed level, the alert cooldown and any active alert are kept. If an
// exceedance was open, the returned step closes it under the old limit.
func (p *Pipeline) SetLimit(limit float64, now time.Time) (*Step, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkLimitLocked(limit); err != nil {
		return nil, err
	}
	if p.detection.Limit == limit {
		return nil, nil
	}
	old := p.detection.Limit
	p.detection.Limit = limit
	return p.flushLocked(p.detector.Reset(now), old, now), nil
}

// Limit returns the limit in effect.
func (p *Pipeline) Limit() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.detection.Limit
}

// AlertActive reports whether an alert is showing at now.
func (p *Pipeline) AlertActive(now time.Time) bool {
	return p.dispatcher.Active(now)
}

// LastAlert returns when the most recent alert fired, zero if none.
func (p *Pipeline) LastAlert() time.Time {
	return p.dispatcher.LastFired()
}

// AlertCount returns the number of alerts fired.
func (p *Pipeline) AlertCount() int64 {
	return p.dispatcher.Count()
}

// Reset returns every stage to its initial state at now. If an exceedance
// was open, the returned step closes it with the level it had reached.
func (p *Pipeline) Reset(now time.Time) *Step {
	p.mu.Lock()
	defer p.mu.Unlock()
	flush := p.flushLocked(p.detector.Reset(now), p.detection.Limit, now)
	p.smoother.Reset()
	p.dispatcher.Reset()
	p.peak.Reset()
	return flush
}
