package capture

import (
	"sync"

	"github.com/doananhminh-dev/Class-calm/internal/audio"
)

// window keeps the last size samples written by a device callback.
// It is safe for concurrent use.
type window struct {
	mu     sync.Mutex
	buf    audio.SampleFrame
	pos    int
	filled int
	seq    uint64
	dec    audio.SampleFrame // scratch for decoded PCM
}

func newWindow(size int) *window {
	return &window{buf: make(audio.SampleFrame, size)}
}

// write appends samples, overwriting the oldest ones.
func (w *window) write(samples audio.SampleFrame) {
	if len(samples) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range samples {
		w.put(s)
	}
	w.seq++
}

// writeS16LE decodes little-endian 16-bit PCM into the window.
func (w *window) writeS16LE(p []byte) {
	if len(p) < 2 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dec = audio.DecodeS16LE(w.dec[:0], p)
	for _, s := range w.dec {
		w.put(s)
	}
	w.seq++
}

func (w *window) put(s float32) {
	w.buf[w.pos] = s
	w.pos = (w.pos + 1) % len(w.buf)
	if w.filled < len(w.buf) {
		w.filled++
	}
}

// snapshot appends the buffered samples to dst in arrival order.
func (w *window) snapshot(dst audio.SampleFrame) (audio.SampleFrame, uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.filled == 0 {
		return dst, w.seq
	}
	start := (w.pos - w.filled + len(w.buf)) % len(w.buf)
	if start+w.filled <= len(w.buf) {
		dst = append(dst, w.buf[start:start+w.filled]...)
	} else {
		dst = append(dst, w.buf[start:]...)
		dst = append(dst, w.buf[:w.pos]...)
	}
	return dst, w.seq
}

// reset discards buffered audio. The sequence number is never reused.
func (w *window) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pos = 0
	w.filled = 0
	w.seq++
}
