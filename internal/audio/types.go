package audio

import "time"

// SampleFrame is one analysis window of mono samples, nominally in [-1, 1].
type SampleFrame []float32

// Capture format constants shared by all backends.
const (
	// SampleRate is the capture sample rate in Hz.
	SampleRate = 48000
	// Channels is the number of captured channels (mono).
	Channels = 1
	// DefaultFrameSize is the number of samples analysed per iteration.
	DefaultFrameSize = 2048
	// DefaultFrameInterval is the pipeline tick, roughly one display refresh at 60 Hz.
	DefaultFrameInterval = 16 * time.Millisecond
)

// MaxLevel is the top of the display scale. Levels are dimensionless, not calibrated dB SPL.
const MaxLevel = 100.0

// DefaultVibrateMs is the vibration length suggested to clients when an alert fires.
const DefaultVibrateMs = 200

// Device represents an available audio input device.
type Device struct {
	// ID is the device identifier.
	ID string `json:"id"`
	// Name is the device display name.
	Name string `json:"name"`
}
