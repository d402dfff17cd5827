package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/doananhminh-dev/Class-calm/internal/audio"
	"github.com/doananhminh-dev/Class-calm/internal/types"
	"github.com/doananhminh-dev/Class-calm/internal/util"
)

// CommandSource captures PCM from an external recorder (arecord or FFmpeg)
// writing S16LE mono to stdout.
type CommandSource struct {
	device     string
	ffmpegPath string
	win        *window
	failure    *atomic.Error

	mu     sync.Mutex
	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan struct{}

	// Written by the reader goroutine before done is closed.
	waitErr error
	stderr  bytes.Buffer
}

// NewCommandSource creates a source that runs the platform capture command.
func NewCommandSource(device, ffmpegPath string, frameSize int) *CommandSource {
	return &CommandSource{
		device:     device,
		ffmpegPath: ffmpegPath,
		win:        newWindow(frameSize),
		failure:    atomic.NewError(nil),
	}
}

// Open starts the capture process and waits until it produces audio.
func (s *CommandSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return ErrAlreadyOpen
	}

	cmdName, args, err := audio.BuildCaptureCommand(s.device, s.ffmpegPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	slog.Info("starting audio capture", "backend", BackendCommand, "command", cmdName, "input", s.device)

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, cmdName, args...)
	cmd.Cancel = func() error {
		return util.GracefulSignal(cmd.Process)
	}
	cmd.WaitDelay = types.ShutdownTimeout

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return util.WrapError("create stdout pipe", err)
	}
	s.stderr.Reset()
	cmd.Stderr = &s.stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return classifyOpenError(err, "")
	}

	s.win.reset()
	s.waitErr = nil
	s.failure.Store(nil)
	firstData := make(chan struct{})
	done := make(chan struct{})
	go s.readLoop(procCtx, cmd, stdout, firstData, done)

	timer := time.NewTimer(types.SourceStartTimeout)
	defer timer.Stop()

	var openErr error
	select {
	case <-firstData:
	case <-done:
		select {
		case <-firstData:
			// Audio arrived before the exit; readLoop has recorded the failure.
		default:
			openErr = classifyOpenError(exitError(s.waitErr), util.ExtractLastError(s.stderr.String()))
		}
	case <-ctx.Done():
		openErr = ctx.Err()
	case <-timer.C:
		openErr = fmt.Errorf("%w: no audio from %s after %s", ErrDeviceUnavailable, cmdName, types.SourceStartTimeout)
	}

	if openErr != nil {
		cancel()
		<-done
		return openErr
	}

	s.cmd = cmd
	s.cancel = cancel
	s.done = done
	return nil
}

// readLoop copies stdout into the window until the process exits. An exit
// that Close did not ask for is recorded as the source failure.
func (s *CommandSource) readLoop(ctx context.Context, cmd *exec.Cmd, stdout io.Reader, firstData, done chan struct{}) {
	defer close(done)

	buf := make([]byte, 4096)
	var signaled bool
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			s.win.writeS16LE(buf[:n])
			if !signaled {
				signaled = true
				close(firstData)
			}
		}
		if err != nil {
			break
		}
	}

	s.waitErr = cmd.Wait()
	if ctx.Err() != nil {
		return
	}
	reason := util.ExtractLastError(s.stderr.String())
	err := classifyOpenError(exitError(s.waitErr), reason)
	s.failure.Store(err)
	slog.Error("audio capture process exited", "backend", BackendCommand, "error", err)
}

// Latest returns the most recent samples read from the process.
func (s *CommandSource) Latest(dst audio.SampleFrame) (audio.SampleFrame, uint64) {
	return s.win.snapshot(dst)
}

// Err reports an unexpected exit of the capture process.
func (s *CommandSource) Err() error {
	return s.failure.Load()
}

// Close stops the capture process, escalating to a kill after the shutdown timeout.
func (s *CommandSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil {
		return nil
	}

	s.cancel()

	var err error
	select {
	case <-s.done:
		slog.Info("audio capture stopped", "backend", BackendCommand)
	case <-time.After(2 * types.ShutdownTimeout):
		err = errors.New("capture process did not exit")
	}

	s.cmd = nil
	s.cancel = nil
	s.done = nil
	s.win.reset()
	return err
}

// exitError reports a clean exit during open as an error.
func exitError(err error) error {
	if err == nil {
		return errors.New("capture process exited")
	}
	return err
}
