package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPeakHolder(t *testing.T) {
	p := NewPeakHolder()
	t0 := time.Unix(100, 0)
	heldAt := t0.Add(100 * time.Millisecond)

	require.Equal(t, 40.0, p.Update(40, t0))
	require.Equal(t, 70.0, p.Update(70, heldAt))
	require.Equal(t, 70.0, p.Update(30, t0.Add(500*time.Millisecond)))
	require.Equal(t, 70.0, p.Update(30, heldAt.Add(DefaultPeakHoldDuration)))

	// Hold expired, follow the live level again.
	require.Equal(t, 25.0, p.Update(25, heldAt.Add(DefaultPeakHoldDuration+time.Millisecond)))

	p.Reset()
	require.Equal(t, 5.0, p.Update(5, heldAt.Add(DefaultPeakHoldDuration+2*time.Millisecond)))
}
