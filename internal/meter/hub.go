package meter

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/doananhminh-dev/Class-calm/internal/audio"
	"github.com/doananhminh-dev/Class-calm/internal/capture"
	"github.com/doananhminh-dev/Class-calm/internal/types"
)

// Well-known session names.
const (
	// SessionMonitor drives the main classroom display.
	SessionMonitor = "monitor"
	// SessionBadge drives the compact header indicator.
	SessionBadge = "badge"
)

// ErrSessionNotFound is returned for an unknown session name.
var ErrSessionNotFound = errors.New("meter session not found")

// Hub owns the shared microphone and the named sessions reading from it.
type Hub struct {
	shared *capture.Shared

	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
}

// NewHub creates a hub around one shared source.
func NewHub(shared *capture.Shared) *Hub {
	return &Hub{
		shared:   shared,
		sessions: make(map[string]*Session),
	}
}

// Shared returns the shared microphone.
func (h *Hub) Shared() *capture.Shared {
	return h.shared
}

// Add registers s under its name. Names must be unique.
func (h *Hub) Add(s *Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.sessions[s.Name()]; exists {
		return fmt.Errorf("meter session %q already registered", s.Name())
	}
	h.sessions[s.Name()] = s
	h.order = append(h.order, s.Name())
	return nil
}

// Session returns the named session.
func (h *Hub) Session(name string) (*Session, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, name)
	}
	return s, nil
}

// Sessions returns all sessions in registration order.
func (h *Hub) Sessions() []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(h.order))
	for _, name := range h.order {
		out = append(out, h.sessions[name])
	}
	return out
}

// Names returns the session names in registration order.
func (h *Hub) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.order)
}

// Start starts the named session.
func (h *Hub) Start(ctx context.Context, name string, cfg audio.MeterConfig) error {
	s, err := h.Session(name)
	if err != nil {
		return err
	}
	return s.Start(ctx, cfg)
}

// Stop stops the named session.
func (h *Hub) Stop(name string) error {
	s, err := h.Session(name)
	if err != nil {
		return err
	}
	return s.Stop()
}

// CheckLimit reports whether every session would accept limit.
func (h *Hub) CheckLimit(limit float64) error {
	var errs []error
	for _, s := range h.Sessions() {
		if err := s.CheckLimit(limit); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// SetLimit applies limit to every session. Nothing changes unless every
// session accepts it.
func (h *Hub) SetLimit(limit float64) error {
	if err := h.CheckLimit(limit); err != nil {
		return err
	}
	var errs []error
	for _, s := range h.Sessions() {
		if err := s.SetLimit(limit); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Telemetry returns the telemetry of every session keyed by name.
func (h *Hub) Telemetry() map[string]types.Telemetry {
	sessions := h.Sessions()
	out := make(map[string]types.Telemetry, len(sessions))
	for _, s := range sessions {
		out[s.Name()] = s.Telemetry()
	}
	return out
}

// DeviceRefs returns the number of sessions holding the microphone.
func (h *Hub) DeviceRefs() int {
	return h.shared.Refs()
}

// StopAll stops every session.
func (h *Hub) StopAll() error {
	var errs []error
	for _, s := range h.Sessions() {
		if err := s.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
