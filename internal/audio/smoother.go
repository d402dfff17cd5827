package audio

import "math"

// SmootherConfig holds the gate and filter parameters.
type SmootherConfig struct {
	NoiseFloor float64 // readings below this are treated as silence
	Alpha      float64 // EMA factor in (0, 1]
	MaxStep    float64 // largest change per update, 0 disables
}

// Gate returns 0 for readings below the noise floor or NaN, and raw otherwise.
func Gate(raw, noiseFloor float64) float64 {
	if math.IsNaN(raw) || raw < noiseFloor {
		return 0
	}
	return raw
}

// Smoother is a noise gate followed by a one-pole low-pass filter.
// It is owned by a single pipeline and is not safe for concurrent use.
type Smoother struct {
	level float64
}

// Update gates raw, folds it into the running average and returns the new level.
// A non-finite reading counts as silence.
func (s *Smoother) Update(raw float64, cfg SmootherConfig) float64 {
	gated := Gate(Clamp(raw), cfg.NoiseFloor)

	step := (gated - s.level) * cfg.Alpha
	if cfg.MaxStep > 0 {
		step = min(max(step, -cfg.MaxStep), cfg.MaxStep)
	}

	s.level = Clamp(s.level + step)
	return s.level
}

// Level returns the unrounded smoothed level.
func (s *Smoother) Level() float64 {
	return s.level
}

// Display returns the level rounded for presentation. The filter state is unaffected.
func (s *Smoother) Display() int {
	return int(math.Round(s.level))
}

// Reset returns the smoother to silence.
func (s *Smoother) Reset() {
	s.level = 0
}
