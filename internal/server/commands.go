package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/doananhminh-dev/Class-calm/internal/config"
	"github.com/doananhminh-dev/Class-calm/internal/meter"
)

// Command limits.
const (
	DefaultEventsPage = 50               // Events returned by events/view without a limit
	testTimeout       = 60 * time.Second // Upper bound for a notification or archive test
)

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// LimitObserver is told about limit changes made through commands.
type LimitObserver interface {
	LimitChanged(session string, at time.Time, from, to float64)
}

// Archiver uploads the event log on demand.
type Archiver interface {
	ArchiveNow(ctx context.Context) (int, error)
}

// errUnknownCommand is sent back for command types with no route.
var errUnknownCommand = errors.New("unknown command")

// commandFunc handles one command type.
type commandFunc func(cmd WSCommand, send chan<- any)

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg          *config.Config
	hub          *meter.Hub
	eventLogPath string
	limits       LimitObserver
	archiver     Archiver
	routes       map[string]commandFunc
}

// NewCommandHandler creates a new command handler. limits and archiver may be nil.
func NewCommandHandler(cfg *config.Config, hub *meter.Hub, eventLogPath string, limits LimitObserver, archiver Archiver) *CommandHandler {
	h := &CommandHandler{
		cfg:          cfg,
		hub:          hub,
		eventLogPath: eventLogPath,
		limits:       limits,
		archiver:     archiver,
	}
	h.routes = h.buildRoutes()
	return h
}

// buildRoutes maps every slash-style command type to its handler.
func (h *CommandHandler) buildRoutes() map[string]commandFunc {
	r := map[string]commandFunc{
		"meter/start":  h.handleMeterStart,
		"meter/stop":   h.handleMeterStop,
		"meter/update": h.handleMeterUpdate,
		"meter/get": func(cmd WSCommand, send chan<- any) {
			SendSuccess(send, cmd.Type, h.hub.Telemetry())
		},

		"audio/update": h.handleAudioUpdate,
		"audio/get": func(cmd WSCommand, send chan<- any) {
			snap := h.cfg.Snapshot()
			SendSuccess(send, cmd.Type, map[string]any{
				"backend":    snap.AudioBackend,
				"input":      snap.AudioInput,
				"frame_size": snap.FrameSize,
			})
		},

		"events/view": h.handleViewEvents,

		"archive/update": h.handleArchiveUpdate,
		"archive/run":    h.handleArchiveRun,
		"archive/test":   func(_ WSCommand, send chan<- any) { h.handleTest(send, "archive") },

		"config/get": func(_ WSCommand, send chan<- any) { h.handleConfigGet(send) },
		// Status goes out after every command, so status/get needs no work of its own.
		"status/get": func(WSCommand, chan<- any) {},
	}

	for _, channel := range []string{"webhook", "log", "email", "zabbix"} {
		prefix := "notifications/" + channel + "/"
		r[prefix+"update"] = func(cmd WSCommand, send chan<- any) { h.handleNotificationUpdate(channel, cmd, send) }
		r[prefix+"get"] = func(cmd WSCommand, send chan<- any) { h.handleNotificationGet(channel, cmd, send) }
		r[prefix+"test"] = func(_ WSCommand, send chan<- any) { h.handleTest(send, channel) }
	}
	return r
}

// Handle runs the command named by cmd.Type (e.g. "meter/start" or
// "notifications/webhook/test") and then asks for a status push.
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	route, ok := h.routes[cmd.Type]
	if !ok {
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
		SendError(send, cmd.Type, fmt.Errorf("%w: %s", errUnknownCommand, cmd.Type))
		return
	}

	route(cmd, send)
	triggerStatusUpdate()
}
