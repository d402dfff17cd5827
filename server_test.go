package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/doananhminh-dev/Class-calm/internal/alert"
	"github.com/doananhminh-dev/Class-calm/internal/capture"
	"github.com/doananhminh-dev/Class-calm/internal/config"
	"github.com/doananhminh-dev/Class-calm/internal/eventlog"
	"github.com/doananhminh-dev/Class-calm/internal/meter"
	"github.com/doananhminh-dev/Class-calm/internal/metrics"
	"github.com/doananhminh-dev/Class-calm/internal/server"
	"github.com/doananhminh-dev/Class-calm/internal/types"
)

type testServer struct {
	srv     *Server
	handler http.Handler
	cookie  *http.Cookie
	source  *capture.SyntheticSource
	events  *eventlog.Logger
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()

	cfg := config.New(filepath.Join(dir, "config.json"))
	require.NoError(t, cfg.Load())
	require.NoError(t, cfg.SetAudioBackend(capture.BackendSynthetic))
	t.Cleanup(func() { _ = cfg.Flush() })

	source := capture.NewSyntheticSource(1024)
	hub := meter.NewHub(capture.NewShared(source))
	alerts := newAlertBroadcaster()
	for _, name := range []string{meter.SessionMonitor, meter.SessionBadge} {
		require.NoError(t, hub.Add(meter.New(name, hub.Shared(), alerts, meter.WithInterval(10*time.Millisecond))))
	}
	t.Cleanup(func() { _ = hub.StopAll() })

	events, err := eventlog.NewLogger(filepath.Join(dir, "events.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = events.Close() })

	commands := server.NewCommandHandler(cfg, hub, events.Path(), eventlog.NewObserver(events), nil)
	srv := NewServer(cfg, hub, commands, metrics.New(hub.DeviceRefs), alerts, false)
	t.Cleanup(srv.version.Stop)
	srv.refreshDevices()

	return &testServer{
		srv:     srv,
		handler: srv.SetupRoutes(),
		cookie:  &http.Cookie{Name: server.SessionCookieName, Value: srv.sessions.Create()},
		source:  source,
		events:  events,
	}
}

func (ts *testServer) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.AddCookie(ts.cookie)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	ts := newTestServer(t)

	for _, target := range []string{"/", "/api/meter", "/ws"} {
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, http.NoBody))
		require.Equal(t, http.StatusFound, rec.Code, target)
		require.Equal(t, "/login", rec.Header().Get("Location"), target)
	}
}

func TestPublicRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), config.DefaultRoomName)
	require.Contains(t, rec.Body.String(), `name="csrf_token"`)
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/favicon.svg", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), config.DefaultColorLight)

	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/style.css", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/css")

	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "classcalm_device_refs")
}

func TestLoginFlow(t *testing.T) {
	ts := newTestServer(t)

	form := url.Values{
		"csrf_token": {ts.srv.sessions.CreateCSRFToken()},
		"username":   {config.DefaultWebUsername},
		"password":   {config.DefaultWebPassword},
	}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/", rec.Header().Get("Location"))
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	require.Equal(t, server.SessionCookieName, cookies[0].Name)

	form.Set("csrf_token", ts.srv.sessions.CreateCSRFToken())
	form.Set("password", "wrong")
	req = httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Invalid username or password")
}

func TestLoginLockedOut(t *testing.T) {
	ts := newTestServer(t)

	post := func(password string) *httptest.ResponseRecorder {
		form := url.Values{
			"csrf_token": {ts.srv.sessions.CreateCSRFToken()},
			"username":   {config.DefaultWebUsername},
			"password":   {password},
		}
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		return rec
	}

	for range 5 {
		require.Equal(t, http.StatusOK, post("wrong").Code)
	}
	rec := post(config.DefaultWebPassword)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Contains(t, rec.Body.String(), "Too many failed attempts")
}

func TestIndexAndAssets(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `id="monitor"`)
	require.Contains(t, rec.Body.String(), "--brand:")

	rec = ts.do(t, http.MethodGet, "/app.js", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "javascript")

	rec = ts.do(t, http.MethodGet, "/missing.js", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIMeterLifecycle(t *testing.T) {
	ts := newTestServer(t)
	ts.source.SetAmplitude(0.5)

	rec := ts.do(t, http.MethodPost, "/api/meter/start?session=monitor", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[struct {
		Results []MeterActionResult `json:"results"`
	}](t, rec)
	require.Len(t, res.Results, 1)
	require.True(t, res.Results[0].Success)
	require.Equal(t, types.StateRunning, res.Results[0].Telemetry.State)

	// Starting a running session is a no-op.
	rec = ts.do(t, http.MethodPost, "/api/meter/start?session=monitor", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		rec := ts.do(t, http.MethodGet, "/api/meter", nil)
		body := decode[struct {
			Meters     map[string]types.Telemetry `json:"meters"`
			DeviceRefs int                        `json:"device_refs"`
		}](t, rec)
		return body.DeviceRefs == 1 && body.Meters[meter.SessionMonitor].Level > 0
	}, 3*time.Second, 20*time.Millisecond)

	rec = ts.do(t, http.MethodPost, "/api/meter/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0, ts.srv.hub.DeviceRefs())

	// Stopping twice is safe.
	rec = ts.do(t, http.MethodPost, "/api/meter/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/meter/start?session=hallway", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIMeterLimit(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPut, "/api/meter/limit", map[string]any{"limit": 72})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.InDelta(t, 72.0, ts.srv.config.MeterConfig().Limit, 1e-9)

	sess, err := ts.srv.hub.Session(meter.SessionBadge)
	require.NoError(t, err)
	require.InDelta(t, 72.0, sess.Limit(), 1e-9)

	rec = ts.do(t, http.MethodPut, "/api/meter/limit", map[string]any{"limit": 120})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.InDelta(t, 72.0, ts.srv.config.MeterConfig().Limit, 1e-9)

	rec = ts.do(t, http.MethodPut, "/api/meter/limit", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	entries, _, err := eventlog.ReadLast(ts.events.Path(), 10, 0, eventlog.FilterAll)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	require.Equal(t, eventlog.LimitChanged, entries[0].Type)
}

func TestAPIDevicesAndEvents(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/devices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), capture.SyntheticDevice.Name)

	rec = ts.do(t, http.MethodGet, "/api/events?limit=x", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/events?filter=bogus", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/events?filter=session", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAPITest(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/notifications/test/pager", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// No webhook configured.
	rec = ts.do(t, http.MethodPost, "/api/notifications/test/webhook", nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	res := decode[types.WSTestResult](t, rec)
	require.False(t, res.Success)
	require.NotEmpty(t, res.Error)

	require.NoError(t, ts.srv.config.SetLogPath(filepath.Join(t.TempDir(), "alerts.jsonl")))
	rec = ts.do(t, http.MethodPost, "/api/notifications/test/log", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, decode[types.WSTestResult](t, rec).Success)
}

func TestAlertBroadcaster(t *testing.T) {
	b := newAlertBroadcaster()
	ch := b.subscribe()

	a := alert.Alert{At: time.Now(), Session: meter.SessionMonitor, Level: 80, Limit: 60, VibrateMs: 200}
	require.NoError(t, b.Trigger(context.Background(), a))

	select {
	case msg := <-ch:
		require.Equal(t, "alert", msg.Type)
		require.Equal(t, meter.SessionMonitor, msg.Session)
		require.Equal(t, 200, msg.VibrateMs)
	case <-time.After(time.Second):
		t.Fatal("alert not delivered")
	}

	// A full subscriber never blocks Trigger.
	for range 10 {
		require.NoError(t, b.Trigger(context.Background(), a))
	}

	b.unsubscribe(ch)
	require.NoError(t, b.Trigger(context.Background(), a))
	require.Len(t, ch, cap(ch))
}

func TestStatusForError(t *testing.T) {
	require.Equal(t, http.StatusForbidden, statusForError(capture.ErrPermissionDenied))
	require.Equal(t, http.StatusServiceUnavailable, statusForError(capture.ErrDeviceUnavailable))
	require.Equal(t, http.StatusNotFound, statusForError(meter.ErrSessionNotFound))
	require.Equal(t, http.StatusInternalServerError, statusForError(context.Canceled))
}
