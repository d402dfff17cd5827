// Package alert decides when a sustained exceedance becomes a user-visible
// alert and delivers it to actuators such as a screen flash or a webhook.
package alert

import (
	"context"
	"errors"
	"time"
)

// Alert describes one firing.
type Alert struct {
	At        time.Time `json:"at"`
	Session   string    `json:"session"`
	Level     float64   `json:"level"`
	Limit     float64   `json:"limit"`
	VibrateMs int       `json:"vibrate_ms"`
}

// Actuator performs the side effect of an alert.
type Actuator interface {
	Trigger(ctx context.Context, a Alert) error
}

// Noop is an Actuator that does nothing.
type Noop struct{}

// Trigger implements Actuator.
func (Noop) Trigger(context.Context, Alert) error { return nil }

// Func adapts a function to the Actuator interface.
type Func func(ctx context.Context, a Alert) error

// Trigger implements Actuator.
func (f Func) Trigger(ctx context.Context, a Alert) error { return f(ctx, a) }

// Multi triggers every actuator in order and joins their errors.
type Multi []Actuator

// Trigger implements Actuator.
func (m Multi) Trigger(ctx context.Context, a Alert) error {
	var errs []error
	for _, act := range m {
		if act == nil {
			continue
		}
		if err := act.Trigger(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
