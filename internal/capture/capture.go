// Package capture opens microphone input and exposes it as analysis frames.
//
// A Source owns the device. Shared wraps a Source so several meter sessions
// can read from one microphone: the device is opened for the first consumer
// and released when the last one closes its Handle.
package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/doananhminh-dev/Class-calm/internal/audio"
)

// Sentinel errors for capture operations.
var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("audio input device unavailable")
	ErrAlreadyOpen       = errors.New("audio source already open")
	ErrUnknownBackend    = errors.New("unknown capture backend")
)

// Capture backends.
const (
	BackendMalgo     = "malgo"
	BackendCommand   = "command"
	BackendSynthetic = "synthetic"
)

// Source is a microphone that keeps the most recent samples available.
type Source interface {
	// Open acquires the device. Opening an open source returns ErrAlreadyOpen.
	Open(ctx context.Context) error
	// Latest appends the most recent window of samples to dst. The returned
	// sequence number changes whenever new audio has arrived.
	Latest(dst audio.SampleFrame) (audio.SampleFrame, uint64)
	// Close releases the device. Closing a closed source is a no-op.
	Close() error
	// Err reports why an open source stopped delivering audio, such as an
	// exited capture process or a lost device. It is nil while capture is
	// healthy and is cleared by the next successful Open.
	Err() error
}

// Options configures a Source created by New.
type Options struct {
	Backend    string
	Device     string
	FFmpegPath string
	FrameSize  int
}

// New creates a Source for the configured backend.
func New(opts Options) (Source, error) {
	frameSize := opts.FrameSize
	if frameSize <= 0 {
		frameSize = audio.DefaultFrameSize
	}

	switch opts.Backend {
	case "", BackendMalgo:
		return NewMalgoSource(opts.Device, frameSize), nil
	case BackendCommand:
		return NewCommandSource(opts.Device, opts.FFmpegPath, frameSize), nil
	case BackendSynthetic:
		return NewSyntheticSource(frameSize), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

// SyntheticDevice is the only device offered by the synthetic backend.
var SyntheticDevice = audio.Device{ID: "synthetic", Name: "Synthetic test tone"}

// Devices lists the inputs the backend can open.
func Devices(backend string) ([]audio.Device, error) {
	switch backend {
	case "", BackendMalgo:
		return CaptureDevices()
	case BackendCommand:
		return audio.Devices(), nil
	case BackendSynthetic:
		return []audio.Device{SyntheticDevice}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// classifyOpenError maps a backend failure onto ErrPermissionDenied or ErrDeviceUnavailable.
func classifyOpenError(err error, detail string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
		return err
	}

	msg := strings.ToLower(err.Error() + " " + detail)
	reason := err.Error()
	if detail != "" {
		reason = detail
	}
	for _, hint := range []string{"permission", "denied", "not permitted", "access"} {
		if strings.Contains(msg, hint) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, reason)
		}
	}
	return fmt.Errorf("%w: %s", ErrDeviceUnavailable, reason)
}
