package capture

import (
	"context"
	"math"
	"sync"

	"go.uber.org/atomic"

	"github.com/doananhminh-dev/Class-calm/internal/audio"
)

// DefaultToneHz is the frequency of the synthetic test tone.
const DefaultToneHz = 440.0

// SyntheticSource generates a sine tone instead of reading a microphone.
// A fresh frame is produced on every read, which makes it suitable for
// demos on machines without an input device.
type SyntheticSource struct {
	frameSize int
	amplitude *atomic.Float64

	mu    sync.Mutex
	open    bool
	phase   float64
	seq     uint64
	failure error
}

// NewSyntheticSource creates a silent synthetic source.
func NewSyntheticSource(frameSize int) *SyntheticSource {
	return &SyntheticSource{
		frameSize: frameSize,
		amplitude: atomic.NewFloat64(0),
	}
}

// SetAmplitude sets the tone peak amplitude in [0, 1].
func (s *SyntheticSource) SetAmplitude(a float64) {
	s.amplitude.Store(min(max(a, 0), 1))
}

// Open marks the source as open.
func (s *SyntheticSource) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return ErrAlreadyOpen
	}
	s.open = true
	s.phase = 0
	s.failure = nil
	return nil
}

// Latest appends one generated frame to dst.
func (s *SyntheticSource) Latest(dst audio.SampleFrame) (audio.SampleFrame, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open || s.failure != nil {
		return dst, s.seq
	}

	amp := s.amplitude.Load()
	step := 2 * math.Pi * DefaultToneHz / audio.SampleRate
	for range s.frameSize {
		dst = append(dst, float32(amp*math.Sin(s.phase)))
		s.phase = math.Mod(s.phase+step, 2*math.Pi)
	}
	s.seq++
	return dst, s.seq
}

// Err reports a failure set with Fail.
func (s *SyntheticSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Fail simulates a lost device: the source stops producing frames and Err
// returns err until the next Open.
func (s *SyntheticSource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

// Close marks the source as closed.
func (s *SyntheticSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}
