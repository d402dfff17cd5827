package audio

import (
	"encoding/binary"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEstimate(t *testing.T) {
	t.Run("silence is zero", func(t *testing.T) {
		level, err := Estimate(make(SampleFrame, DefaultFrameSize), DefaultGain)
		require.NoError(t, err)
		require.Zero(t, level)
	})

	t.Run("rms times gain", func(t *testing.T) {
		frame := make(SampleFrame, DefaultFrameSize)
		for i := range frame {
			if i%2 == 0 {
				frame[i] = 0.25
			} else {
				frame[i] = -0.25
			}
		}
		level, err := Estimate(frame, 120)
		require.NoError(t, err)
		require.InDelta(t, 30, level, 1e-9)
	})

	t.Run("clamped to the display scale", func(t *testing.T) {
		frame := SampleFrame{1, -1, 1, -1}
		level, err := Estimate(frame, 150)
		require.NoError(t, err)
		require.Equal(t, MaxLevel, level)
	})

	t.Run("non-finite samples yield zero", func(t *testing.T) {
		for _, bad := range []float32{float32(math.NaN()), float32(math.Inf(1)), float32(math.Inf(-1))} {
			frame := SampleFrame{0.5, bad, 0.5}
			level, err := Estimate(frame, DefaultGain)
			require.ErrorIs(t, err, ErrInvalidFrame)
			require.Zero(t, level)
		}
	})

	t.Run("empty frame is invalid", func(t *testing.T) {
		level, err := Estimate(nil, DefaultGain)
		require.ErrorIs(t, err, ErrInvalidFrame)
		require.Zero(t, level)
	})

	t.Run("always bounded and finite", func(t *testing.T) {
		rng := rand.New(rand.NewPCG(1, 2))
		for range 500 {
			frame := make(SampleFrame, 1+rng.IntN(DefaultFrameSize))
			for i := range frame {
				frame[i] = float32(rng.Float64()*2 - 1)
			}
			gain := 100 + rng.Float64()*50
			level, err := Estimate(frame, gain)
			require.NoError(t, err)
			require.False(t, math.IsNaN(level) || math.IsInf(level, 0))
			require.GreaterOrEqual(t, level, 0.0)
			require.LessOrEqual(t, level, MaxLevel)
		}
	})
}

func TestDecodeS16LE(t *testing.T) {
	buf := make([]byte, 7)
	binary.LittleEndian.PutUint16(buf[0:], uint16(16384))
	v := int16(-32768)
	binary.LittleEndian.PutUint16(buf[2:], uint16(v))
	binary.LittleEndian.PutUint16(buf[4:], 0)

	frame := DecodeS16LE(nil, buf)
	require.Len(t, frame, 3)
	require.InDelta(t, 0.5, frame[0], 1e-6)
	require.InDelta(t, -1.0, frame[1], 1e-6)
	require.Zero(t, frame[2])
}

func TestClamp(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-3, 0},
		{42.5, 42.5},
		{250, MaxLevel},
		{math.NaN(), 0},
		{math.Inf(1), 0},
		{math.Inf(-1), 0},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Clamp(tt.in), "in=%v", tt.in)
	}
}
