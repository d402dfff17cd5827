package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/doananhminh-dev/Class-calm/internal/audio"
	"github.com/doananhminh-dev/Class-calm/internal/capture"
	"github.com/doananhminh-dev/Class-calm/internal/meter"
	"github.com/doananhminh-dev/Class-calm/internal/server"
	"github.com/doananhminh-dev/Class-calm/internal/types"
)

// API response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) readJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// parseJSON reads and parses JSON from request body.
// Returns parsed value and true on success, zero value and false on failure.
func parseJSON[T any](s *Server, w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := s.readJSON(r, &v); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return v, false
	}
	return v, true
}

// statusForError maps meter and capture errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, meter.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, capture.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, capture.ErrDeviceUnavailable), errors.Is(err, capture.ErrUnknownBackend):
		return http.StatusServiceUnavailable
	case errors.Is(err, audio.ErrConfigOutOfRange):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// sessionNames returns the sessions selected by the "session" query
// parameter, or every session when it is absent.
func (s *Server) sessionNames(r *http.Request) []string {
	if name := r.URL.Query().Get("session"); name != "" {
		return []string{name}
	}
	return s.hub.Names()
}

// MeterActionResult reports the outcome of a start or stop per session.
type MeterActionResult struct {
	Session   string          `json:"session"`
	Success   bool            `json:"success"`
	Error     string          `json:"error,omitempty"`
	Telemetry types.Telemetry `json:"telemetry"`
}

// handleAPIMeter returns the telemetry of every session.
// GET /api/meter
func (s *Server) handleAPIMeter(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"meters":      s.hub.Telemetry(),
		"device_refs": s.hub.DeviceRefs(),
	})
}

// handleAPIMeterStart starts one or all sessions.
// POST /api/meter/start[?session=name]
func (s *Server) handleAPIMeterStart(w http.ResponseWriter, r *http.Request) {
	cfg := s.config.MeterConfig()
	s.runMeterAction(w, r, func(name string) error {
		ctx, cancel := context.WithTimeout(r.Context(), types.SourceStartTimeout)
		defer cancel()
		return s.hub.Start(ctx, name, cfg)
	})
}

// handleAPIMeterStop stops one or all sessions.
// POST /api/meter/stop[?session=name]
func (s *Server) handleAPIMeterStop(w http.ResponseWriter, r *http.Request) {
	s.runMeterAction(w, r, s.hub.Stop)
}

// runMeterAction applies action to the selected sessions. The response
// status is that of the first failure, or 200 when every session succeeded.
func (s *Server) runMeterAction(w http.ResponseWriter, r *http.Request, action func(name string) error) {
	names := s.sessionNames(r)
	results := make([]MeterActionResult, 0, len(names))
	status := http.StatusOK

	for _, name := range names {
		res := MeterActionResult{Session: name, Success: true}
		if err := action(name); err != nil {
			res.Success = false
			res.Error = err.Error()
			if status == http.StatusOK {
				status = statusForError(err)
			}
		}
		if sess, err := s.hub.Session(name); err == nil {
			res.Telemetry = sess.Telemetry()
		}
		results = append(results, res)
	}

	s.writeJSON(w, status, map[string]any{"results": results})
}

// LimitRequest is the request body for PUT /api/meter/limit.
type LimitRequest struct {
	Limit *float64 `json:"limit"`
}

// handleAPIMeterLimit changes the limit of every session.
// PUT /api/meter/limit
func (s *Server) handleAPIMeterLimit(w http.ResponseWriter, r *http.Request) {
	req, ok := parseJSON[LimitRequest](s, w, r)
	if !ok {
		return
	}
	if req.Limit == nil {
		s.writeError(w, http.StatusBadRequest, "limit is required")
		return
	}

	if err := s.commands.ApplyLimit(*req.Limit); err != nil {
		s.writeError(w, statusForError(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"limit": *req.Limit})
}

// handleAPIDevices re-enumerates and returns available audio devices.
// GET /api/devices
func (s *Server) handleAPIDevices(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"backend": s.config.Snapshot().AudioBackend,
		"devices": s.refreshDevices(),
	})
}

// handleAPIEvents returns a page of the event log, newest first.
// GET /api/events?limit=50&offset=0&filter=noise
func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"), server.DefaultEventsPage)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "limit: "+err.Error())
		return
	}
	offset, err := queryInt(q.Get("offset"), 0)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "offset: "+err.Error())
		return
	}

	entries, more, err := s.commands.ReadEvents(limit, offset, q.Get("filter"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"entries":  entries,
		"has_more": more,
	})
}

// queryInt parses a non-negative integer query value, falling back to def when empty.
func queryInt(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("must not be negative")
	}
	return n, nil
}

// handleAPITest runs a notification test against the saved settings.
// POST /api/notifications/test/{type}
func (s *Server) handleAPITest(w http.ResponseWriter, r *http.Request) {
	testType := r.PathValue("type")
	switch testType {
	case "webhook", "log", "email", "zabbix":
	default:
		s.writeError(w, http.StatusNotFound, "unknown notification type: "+testType)
		return
	}
	s.runTest(w, r, testType)
}

// handleAPITestArchive verifies the archive bucket settings.
// POST /api/archive/test
func (s *Server) handleAPITestArchive(w http.ResponseWriter, r *http.Request) {
	s.runTest(w, r, "archive")
}

func (s *Server) runTest(w http.ResponseWriter, r *http.Request, testType string) {
	if err := s.commands.RunTest(r.Context(), testType); err != nil {
		slog.Error("test failed", "test", testType, "error", err)
		s.writeJSON(w, http.StatusBadGateway, types.WSTestResult{
			Type:     "test_result",
			TestType: testType,
			Error:    err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, types.WSTestResult{
		Type:     "test_result",
		TestType: testType,
		Success:  true,
	})
}
