// Package audio provides the signal processing stages of the noise meter:
// loudness estimation, noise gating, smoothing and threshold detection.
package audio

import (
	"encoding/binary"
	"errors"
	"math"
)

const (
	// MaxSampleValue is the maximum absolute value for 16-bit signed audio.
	MaxSampleValue = 32768.0
	// DefaultGain maps RMS energy onto the 0-100 display scale.
	DefaultGain = 120.0
)

// ErrInvalidFrame is returned for empty frames or frames containing NaN/Inf samples.
var ErrInvalidFrame = errors.New("invalid sample frame")

// Estimate returns the loudness of frame on the 0-100 display scale: RMS energy
// multiplied by gain and clamped. Invalid frames yield 0 together with ErrInvalidFrame
// so callers can log them without feeding a bad value into the smoother.
func Estimate(frame SampleFrame, gain float64) (float64, error) {
	if len(frame) == 0 {
		return 0, ErrInvalidFrame
	}

	var sumSquares float64
	for _, s := range frame {
		v := float64(s)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, ErrInvalidFrame
		}
		sumSquares += v * v
	}

	rms := math.Sqrt(sumSquares / float64(len(frame)))
	raw := rms * gain
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0, ErrInvalidFrame
	}
	return Clamp(raw), nil
}

// Clamp limits v to the display scale [0, MaxLevel]. NaN and infinities map to 0.
func Clamp(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return min(max(v, 0), MaxLevel)
}

// DecodeS16LE appends the samples of S16LE mono PCM in buf to dst, normalized to [-1, 1).
// A trailing odd byte is ignored.
func DecodeS16LE(dst SampleFrame, buf []byte) SampleFrame {
	for i := 0; i+1 < len(buf); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(buf[i:]))
		dst = append(dst, float32(float64(sample)/MaxSampleValue))
	}
	return dst
}
