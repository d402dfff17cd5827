package audio

import (
	"sync"
	"time"
)

// DefaultPeakHoldDuration is how long the loudest level stays on screen before following the live level.
const DefaultPeakHoldDuration = 3000 * time.Millisecond

// PeakHolder keeps the loudest recent level for the meter's peak marker.
// It is safe for concurrent use.
type PeakHolder struct {
	mu           sync.Mutex
	held         float64
	heldAt       time.Time
	holdDuration time.Duration
}

// NewPeakHolder creates a peak holder with the default hold duration.
func NewPeakHolder() *PeakHolder {
	return &PeakHolder{holdDuration: DefaultPeakHoldDuration}
}

// Update records level and returns the held peak.
func (p *PeakHolder) Update(level float64, now time.Time) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if level >= p.held || now.Sub(p.heldAt) > p.holdDuration {
		p.held = level
		p.heldAt = now
	}
	return p.held
}

// Reset clears the held peak.
func (p *PeakHolder) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.held = 0
	p.heldAt = time.Time{}
}
