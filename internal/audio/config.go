package audio

import (
	"errors"
	"fmt"
	"time"
)

// Limit bounds accepted from the UI slider.
const (
	MinLimit = 30.0
	MaxLimit = 100.0
)

// Meter defaults.
const (
	DefaultLimit         = 60.0
	DefaultNoiseFloor    = 8.0
	DefaultAlpha         = 0.1
	DefaultHysteresis    = 2.0
	DefaultSustain       = 2000 * time.Millisecond
	DefaultAlertDuration = 2000 * time.Millisecond
	DefaultCooldown      = 3000 * time.Millisecond
)

// ErrConfigOutOfRange is returned when a meter parameter is outside its accepted range.
var ErrConfigOutOfRange = errors.New("meter config out of range")

// MeterConfig holds the calibration and alerting parameters of one meter session.
type MeterConfig struct {
	Limit         float64       // alert threshold on the 0-100 scale
	Gain          float64       // RMS to display-scale multiplier
	NoiseFloor    float64       // gate threshold
	Alpha         float64       // smoothing factor
	MaxStep       float64       // per-iteration step bound, 0 disables
	Hysteresis    float64       // clear margin below Limit
	Sustain       time.Duration // required time over Limit before alerting
	AlertDuration time.Duration // how long an alert stays active
	Cooldown      time.Duration // minimum time between alerts
}

// DefaultMeterConfig returns the standard classroom calibration.
func DefaultMeterConfig() MeterConfig {
	return MeterConfig{
		Limit:         DefaultLimit,
		Gain:          DefaultGain,
		NoiseFloor:    DefaultNoiseFloor,
		Alpha:         DefaultAlpha,
		Hysteresis:    DefaultHysteresis,
		Sustain:       DefaultSustain,
		AlertDuration: DefaultAlertDuration,
		Cooldown:      DefaultCooldown,
	}
}

// ValidateLimit checks that limit is within the slider range.
func ValidateLimit(limit float64) error {
	if limit < MinLimit || limit > MaxLimit {
		return fmt.Errorf("%w: limit %.1f not in [%.0f, %.0f]", ErrConfigOutOfRange, limit, MinLimit, MaxLimit)
	}
	return nil
}

// Validate checks every parameter. Errors wrap ErrConfigOutOfRange.
func (c MeterConfig) Validate() error {
	if err := ValidateLimit(c.Limit); err != nil {
		return err
	}
	switch {
	case c.Gain <= 0 || c.Gain > 1000:
		return fmt.Errorf("%w: gain %.1f not in (0, 1000]", ErrConfigOutOfRange, c.Gain)
	case c.NoiseFloor < 0 || c.NoiseFloor >= MaxLevel:
		return fmt.Errorf("%w: noise floor %.1f not in [0, 100)", ErrConfigOutOfRange, c.NoiseFloor)
	case c.Alpha <= 0 || c.Alpha > 1:
		return fmt.Errorf("%w: alpha %.2f not in (0, 1]", ErrConfigOutOfRange, c.Alpha)
	case c.MaxStep < 0 || c.MaxStep > MaxLevel:
		return fmt.Errorf("%w: max step %.1f not in [0, 100]", ErrConfigOutOfRange, c.MaxStep)
	case c.Hysteresis < 0 || c.Hysteresis >= c.Limit:
		return fmt.Errorf("%w: hysteresis %.1f not in [0, limit)", ErrConfigOutOfRange, c.Hysteresis)
	case c.Sustain < 0 || c.Sustain > time.Minute:
		return fmt.Errorf("%w: sustain %s not in [0, 1m]", ErrConfigOutOfRange, c.Sustain)
	case c.AlertDuration <= 0 || c.AlertDuration > time.Minute:
		return fmt.Errorf("%w: alert duration %s not in (0, 1m]", ErrConfigOutOfRange, c.AlertDuration)
	case c.Cooldown < 0 || c.Cooldown > time.Hour:
		return fmt.Errorf("%w: cooldown %s not in [0, 1h]", ErrConfigOutOfRange, c.Cooldown)
	}
	return nil
}

// Smoothing returns the gate and filter parameters.
func (c MeterConfig) Smoothing() SmootherConfig {
	return SmootherConfig{NoiseFloor: c.NoiseFloor, Alpha: c.Alpha, MaxStep: c.MaxStep}
}

// Detection returns the detector parameters.
func (c MeterConfig) Detection() DetectorConfig {
	return DetectorConfig{Limit: c.Limit, Hysteresis: c.Hysteresis, Sustain: c.Sustain}
}
