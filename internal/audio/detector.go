package audio

import (
	"sync"
	"time"
)

// DetectorConfig holds the thresholds for sustained-loudness detection.
type DetectorConfig struct {
	Limit      float64       // level at or above which the room is too loud
	Hysteresis float64       // margin below Limit required to clear
	Sustain    time.Duration // how long Limit must hold before the event counts
}

// DetectorState is the state of the threshold detector.
type DetectorState string

const (
	// StateIdle means the level is below the limit.
	StateIdle DetectorState = "idle"
	// StateExceeding means the level reached the limit and has not dropped below the hysteresis floor.
	StateExceeding DetectorState = "exceeding"
)

// DetectorEvent is the result of a detector update.
type DetectorEvent struct {
	// Current state
	State       DetectorState
	InstantOver bool      // level >= limit on this update
	Since       time.Time // start of the current exceedance (zero when idle)
	DurationMs  int64     // time spent exceeding so far
	Sustained   bool      // exceeding for at least the sustain duration

	// State transitions
	JustEntered     bool  // Idle -> Exceeding on this update
	JustSustained   bool  // first update on which Sustained is true
	JustCleared     bool  // Exceeding -> Idle on this update
	TotalDurationMs int64 // length of the exceedance (only set when JustCleared)
}

// ThresholdDetector decides when a loud level becomes a sustained violation.
// It is safe for concurrent use.
type ThresholdDetector struct {
	mu        sync.Mutex
	exceeding bool
	since     time.Time
	sustained bool
}

// NewThresholdDetector creates a detector in the idle state.
func NewThresholdDetector() *ThresholdDetector {
	return &ThresholdDetector{}
}

// Update evaluates level against cfg at time now.
func (d *ThresholdDetector) Update(level float64, cfg DetectorConfig, now time.Time) DetectorEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	event := DetectorEvent{
		State:       StateIdle,
		InstantOver: level >= cfg.Limit,
	}

	if !d.exceeding {
		if !event.InstantOver {
			return event
		}
		d.exceeding = true
		d.since = now
		d.sustained = false
		event.JustEntered = true
	} else if level < cfg.Limit-cfg.Hysteresis {
		// The floor itself still counts as exceeding.
		event.JustCleared = true
		event.TotalDurationMs = now.Sub(d.since).Milliseconds()
		d.exceeding = false
		d.since = time.Time{}
		d.sustained = false
		return event
	}

	elapsed := now.Sub(d.since)
	event.State = StateExceeding
	event.Since = d.since
	event.DurationMs = elapsed.Milliseconds()
	event.Sustained = elapsed >= cfg.Sustain
	event.JustSustained = event.Sustained && !d.sustained
	d.sustained = event.Sustained

	return event
}

// State returns the current state and the start of the current exceedance.
func (d *ThresholdDetector) State() (DetectorState, time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.exceeding {
		return StateExceeding, d.since
	}
	return StateIdle, time.Time{}
}

// Reset returns the detector to idle. An exceedance still open at now is
// closed: the returned event has JustCleared and TotalDurationMs set.
// Otherwise the zero idle event is returned.
func (d *ThresholdDetector) Reset(now time.Time) DetectorEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	event := DetectorEvent{State: StateIdle}
	if d.exceeding {
		event.JustCleared = true
		event.TotalDurationMs = now.Sub(d.since).Milliseconds()
	}
	d.exceeding = false
	d.since = time.Time{}
	d.sustained = false
	return event
}
