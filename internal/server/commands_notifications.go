package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/doananhminh-dev/Class-calm/internal/archive"
	"github.com/doananhminh-dev/Class-calm/internal/eventlog"
	"github.com/doananhminh-dev/Class-calm/internal/notify"
	"github.com/doananhminh-dev/Class-calm/internal/types"
)

var errArchiveUnavailable = errors.New("archiving is not available")

// RunTest executes the named notification or archive test against the saved settings.
func (h *CommandHandler) RunTest(ctx context.Context, testType string) error {
	snap := h.cfg.Snapshot()
	switch testType {
	case "webhook":
		return notify.SendTestWebhook(ctx, snap.WebhookURL, snap.RoomName)
	case "log":
		return notify.WriteTestLog(snap.LogPath, snap.RoomName)
	case "email":
		return notify.SendTestEmail(ctx, &snap.Graph, snap.RoomName)
	case "zabbix":
		return notify.SendTestZabbix(ctx, &snap.Zabbix)
	case "archive":
		return archive.TestConnection(ctx, &snap.Archive.S3)
	default:
		return fmt.Errorf("unknown test type: %s", testType)
	}
}

// handleTest executes a test in the background and sends the result to the client.
func (h *CommandHandler) handleTest(send chan<- any, testType string) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in test handler", "test", testType, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()

		result := types.WSTestResult{
			Type:     "test_result",
			TestType: testType,
			Success:  true,
		}

		if err := h.RunTest(ctx, testType); err != nil {
			slog.Error("test failed", "test", testType, "error", err)
			result.Success = false
			result.Error = err.Error()
		} else {
			slog.Info("test succeeded", "test", testType)
		}

		trySend(send, "test_"+testType, result)
	}()
}

// handleNotificationUpdate processes a notifications/<channel>/update command.
func (h *CommandHandler) handleNotificationUpdate(channel string, cmd WSCommand, send chan<- any) {
	switch channel {
	case "webhook":
		HandleCommand(h, cmd, send, func(req *WebhookUpdateRequest) error {
			return h.cfg.SetWebhookURL(req.URL)
		})
	case "log":
		HandleCommand(h, cmd, send, func(req *LogUpdateRequest) error {
			return h.cfg.SetLogPath(req.Path)
		})
	case "email":
		HandleCommand(h, cmd, send, func(req *EmailUpdateRequest) error {
			return h.cfg.SetGraphConfig(types.GraphConfig{
				TenantID:     req.TenantID,
				ClientID:     req.ClientID,
				ClientSecret: req.ClientSecret,
				FromAddress:  req.FromAddress,
				Recipients:   req.Recipients,
			})
		})
	case "zabbix":
		HandleCommand(h, cmd, send, func(req *ZabbixUpdateRequest) error {
			return h.cfg.SetZabbixConfig(types.ZabbixConfig{
				Server:    req.Server,
				Port:      req.Port,
				Host:      req.Host,
				Key:       req.Key,
				TimeoutMs: req.TimeoutMs,
			})
		})
	}
}

// handleNotificationGet processes a notifications/<channel>/get command.
func (h *CommandHandler) handleNotificationGet(channel string, cmd WSCommand, send chan<- any) {
	snap := h.cfg.Snapshot()
	switch channel {
	case "webhook":
		SendSuccess(send, cmd.Type, map[string]any{"url": snap.WebhookURL, "configured": snap.HasWebhook()})
	case "log":
		SendSuccess(send, cmd.Type, map[string]any{"path": snap.LogPath, "configured": snap.HasLogPath()})
	case "email":
		graph := snap.Graph
		graph.ClientSecret = maskSecret(graph.ClientSecret)
		SendSuccess(send, cmd.Type, map[string]any{"settings": graph, "configured": snap.HasGraph()})
	case "zabbix":
		SendSuccess(send, cmd.Type, map[string]any{"settings": snap.Zabbix, "configured": snap.HasZabbix()})
	}
}

// handleViewEvents reads a page of the event log.
func (h *CommandHandler) handleViewEvents(cmd WSCommand, send chan<- any) {
	var req EventsViewRequest
	if !DecodeAndValidate(cmd, send, &req) {
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in event log handler", "panic", r)
			}
		}()

		result := types.WSEventLogResult{
			Type:    "events_result",
			Success: true,
			Path:    h.eventLogPath,
		}

		entries, more, err := h.ReadEvents(req.Limit, req.Offset, req.Filter)
		if err != nil {
			result.Success = false
			result.Error = err.Error()
		} else {
			result.Entries = entries
			result.HasMore = more
		}

		trySend(send, "events/view", result)
	}()
}

// ReadEvents returns a page of events, newest first.
func (h *CommandHandler) ReadEvents(limit, offset int, filter string) ([]eventlog.Event, bool, error) {
	if h.eventLogPath == "" {
		return nil, false, fmt.Errorf("event log is not enabled")
	}
	f, err := eventlog.ParseFilter(filter)
	if err != nil {
		return nil, false, err
	}
	if limit <= 0 {
		limit = DefaultEventsPage
	}
	return eventlog.ReadLast(h.eventLogPath, limit, offset, f)
}
