package capture

import (
	"context"
	"log/slog"
	"sync"

	"go.uber.org/atomic"

	"github.com/doananhminh-dev/Class-calm/internal/audio"
)

// Shared is a reference-counted owner of one Source. The source is opened
// when the first handle is acquired and closed when the last one is released.
// It is safe for concurrent use.
type Shared struct {
	src       Source
	frameSize int

	mu   sync.Mutex
	refs int
}

// NewShared wraps src for shared use.
func NewShared(src Source) *Shared {
	return &Shared{src: src, frameSize: audio.DefaultFrameSize}
}

// Acquire returns a new handle, opening the source if no other handle is live.
// When opening fails no reference is taken and the error is returned unchanged.
func (s *Shared) Acquire(ctx context.Context) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs == 0 {
		if err := s.src.Open(ctx); err != nil {
			return nil, err
		}
	}
	s.refs++

	return &Handle{
		shared: s,
		buf:    make(audio.SampleFrame, 0, s.frameSize),
	}, nil
}

// Refs returns the number of live handles.
func (s *Shared) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

func (s *Shared) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refs--
	if s.refs > 0 {
		return
	}
	s.refs = 0
	if err := s.src.Close(); err != nil {
		slog.Warn("failed to close audio source", "error", err)
	}
}

// Handle is one consumer's view of a Shared source. Each handle tracks which
// audio it has already seen. A Handle is used by a single goroutine.
type Handle struct {
	shared  *Shared
	buf     audio.SampleFrame
	lastSeq uint64
	seen    bool
	closed  atomic.Bool
	once    sync.Once
}

// ReadFrame returns the latest frame without blocking. It reports false when
// no audio has arrived since the previous read or the handle is closed.
// The returned frame is only valid until the next call.
func (h *Handle) ReadFrame() (audio.SampleFrame, bool) {
	if h.closed.Load() {
		return nil, false
	}

	frame, seq := h.shared.src.Latest(h.buf[:0])
	h.buf = frame
	if len(frame) == 0 || (h.seen && seq == h.lastSeq) {
		return nil, false
	}
	h.lastSeq = seq
	h.seen = true
	return frame, true
}

// Err reports a capture failure of the shared source. A closed handle reports nil.
func (h *Handle) Err() error {
	if h.closed.Load() {
		return nil
	}
	return h.shared.src.Err()
}

// Close releases the handle. Calling Close more than once is safe.
func (h *Handle) Close() error {
	h.once.Do(func() {
		h.closed.Store(true)
		h.shared.release()
	})
	return nil
}
