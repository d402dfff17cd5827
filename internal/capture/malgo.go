package capture

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"go.uber.org/atomic"

	"github.com/doananhminh-dev/Class-calm/internal/audio"
	"github.com/doananhminh-dev/Class-calm/internal/util"
)

// MalgoSource captures from a native audio device through miniaudio.
type MalgoSource struct {
	deviceName string
	win        *window
	failure    *atomic.Error
	closing    *atomic.Bool

	mu     sync.Mutex
	mctx   *malgo.AllocatedContext
	device *malgo.Device
}

// NewMalgoSource creates a source for the named capture device. An empty name
// selects the system default input.
func NewMalgoSource(deviceName string, frameSize int) *MalgoSource {
	return &MalgoSource{
		deviceName: deviceName,
		win:        newWindow(frameSize),
		failure:    atomic.NewError(nil),
		closing:    atomic.NewBool(false),
	}
}

// Open initializes the audio context and starts a mono S16 capture stream.
func (s *MalgoSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device != nil {
		return ErrAlreadyOpen
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return classifyOpenError(util.WrapError("initialize audio context", err), "")
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(audio.Channels)
	deviceConfig.SampleRate = uint32(audio.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	// The device list must stay alive until InitDevice has copied the ID.
	var infos []malgo.DeviceInfo
	if s.deviceName != "" {
		infos, err = mctx.Devices(malgo.Capture)
		if err != nil {
			releaseContext(mctx)
			return classifyOpenError(util.WrapError("list capture devices", err), "")
		}
		idx := findDevice(infos, s.deviceName)
		if idx < 0 {
			releaseContext(mctx)
			return fmt.Errorf("%w: no capture device named %q", ErrDeviceUnavailable, s.deviceName)
		}
		deviceConfig.Capture.DeviceID = infos[idx].ID.Pointer()
	}

	s.win.reset()
	s.failure.Store(nil)
	s.closing.Store(false)
	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, inputBuffer []byte, _ uint32) {
			s.win.writeS16LE(inputBuffer)
		},
		Stop: s.onStop,
	})
	if err != nil {
		releaseContext(mctx)
		return classifyOpenError(util.WrapError("initialize capture device", err), "")
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		releaseContext(mctx)
		return classifyOpenError(util.WrapError("start capture device", err), "")
	}

	s.mctx = mctx
	s.device = device
	slog.Info("audio capture started", "backend", BackendMalgo, "device", cmp.Or(s.deviceName, "default"))
	return nil
}

// Latest returns the most recent samples delivered by the device callback.
func (s *MalgoSource) Latest(dst audio.SampleFrame) (audio.SampleFrame, uint64) {
	return s.win.snapshot(dst)
}

// onStop runs on the audio thread whenever the device stops. A stop that
// Close did not initiate means the device was lost.
func (s *MalgoSource) onStop() {
	if s.closing.Load() {
		return
	}
	err := fmt.Errorf("%w: capture device %s stopped", ErrDeviceUnavailable, cmp.Or(s.deviceName, "default"))
	s.failure.Store(err)
	slog.Error("audio capture device stopped", "backend", BackendMalgo, "error", err)
}

// Err reports an unexpected stop of the capture device.
func (s *MalgoSource) Err() error {
	return s.failure.Load()
}

// Close stops the stream and releases the audio context.
func (s *MalgoSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device == nil {
		return nil
	}

	s.closing.Store(true)
	var err error
	if stopErr := s.device.Stop(); stopErr != nil {
		err = util.WrapError("stop capture device", stopErr)
	}
	s.device.Uninit()
	releaseContext(s.mctx)
	s.device = nil
	s.mctx = nil
	s.win.reset()

	slog.Info("audio capture stopped", "backend", BackendMalgo)
	return err
}

// CaptureDevices lists the native capture devices.
func CaptureDevices() ([]audio.Device, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, util.WrapError("initialize audio context", err)
	}
	defer releaseContext(mctx)

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, util.WrapError("list capture devices", err)
	}

	devices := make([]audio.Device, 0, len(infos))
	for i := range infos {
		name := infos[i].Name()
		devices = append(devices, audio.Device{ID: name, Name: name})
	}
	return devices, nil
}

func findDevice(infos []malgo.DeviceInfo, name string) int {
	for i := range infos {
		if strings.EqualFold(infos[i].Name(), name) {
			return i
		}
	}
	return -1
}

func releaseContext(mctx *malgo.AllocatedContext) {
	if err := mctx.Uninit(); err != nil {
		slog.Warn("failed to release audio context", "error", err)
	}
	mctx.Free()
}
