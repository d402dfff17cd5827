package main

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"path"
	"runtime"
	"sync"
	"time"

	"github.com/doananhminh-dev/Class-calm/internal/alert"
	"github.com/doananhminh-dev/Class-calm/internal/audio"
	"github.com/doananhminh-dev/Class-calm/internal/capture"
	"github.com/doananhminh-dev/Class-calm/internal/config"
	"github.com/doananhminh-dev/Class-calm/internal/meter"
	"github.com/doananhminh-dev/Class-calm/internal/metrics"
	"github.com/doananhminh-dev/Class-calm/internal/server"
	"github.com/doananhminh-dev/Class-calm/internal/types"
	"github.com/doananhminh-dev/Class-calm/internal/util"
)

var loginTmpl = template.Must(template.New("login").Parse(loginHTML))
var indexTmpl = template.Must(template.New("index").Parse(indexHTML))
var faviconTmpl = template.Must(template.New("favicon").Parse(faviconSVG))

// pageData is shared by every rendered page.
type pageData struct {
	Version    string
	Year       int
	RoomName   string
	PrimaryCSS template.CSS
}

type loginData struct {
	pageData
	Error     bool
	Locked    bool
	CSRFToken string
}

// page returns the room branding for a rendered page.
func (s *Server) page() pageData {
	cfg := s.config.Snapshot()
	return pageData{
		Version:    Version,
		Year:       time.Now().Year(),
		RoomName:   cfg.RoomName,
		PrimaryCSS: template.CSS(util.GenerateBrandCSS(cfg.ColorLight, cfg.ColorDark)), //nolint:gosec // Built from validated hex colors
	}
}

// Server is an HTTP server that provides the classroom dashboard and API.
type Server struct {
	config          *config.Config
	hub             *meter.Hub
	sessions        *server.SessionManager
	commands        *server.CommandHandler
	version         *VersionChecker
	metrics         *metrics.Metrics
	alerts          *alertBroadcaster
	ffmpegAvailable bool

	devicesMu sync.RWMutex
	devices   []audio.Device
}

// NewServer returns a new Server for the given config, meter hub and command handler.
func NewServer(cfg *config.Config, hub *meter.Hub, commands *server.CommandHandler, m *metrics.Metrics, alerts *alertBroadcaster, ffmpegAvailable bool) *Server {
	return &Server{
		config:          cfg,
		hub:             hub,
		sessions:        server.NewSessionManager(),
		commands:        commands,
		version:         NewVersionChecker(),
		metrics:         m,
		alerts:          alerts,
		ffmpegAvailable: ffmpegAvailable,
	}
}

// alertBroadcaster fans fired alerts out to every connected dashboard.
// It implements alert.Actuator and never blocks the meter loop.
type alertBroadcaster struct {
	mu   sync.Mutex
	subs map[chan types.WSAlertResponse]struct{}
}

func newAlertBroadcaster() *alertBroadcaster {
	return &alertBroadcaster{subs: make(map[chan types.WSAlertResponse]struct{})}
}

// Trigger implements alert.Actuator.
func (b *alertBroadcaster) Trigger(_ context.Context, a alert.Alert) error {
	msg := types.WSAlertResponse{
		Type:      "alert",
		Session:   a.Session,
		Level:     a.Level,
		Limit:     a.Limit,
		VibrateMs: a.VibrateMs,
		At:        a.At,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- msg:
		default:
			// Slow client; the alert state still reaches it via levels.
		}
	}
	return nil
}

func (b *alertBroadcaster) subscribe() chan types.WSAlertResponse {
	ch := make(chan types.WSAlertResponse, 4)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *alertBroadcaster) unsubscribe(ch chan types.WSAlertResponse) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

// handleWebSocket handles bidirectional WebSocket communication for real-time updates.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// Only the writer goroutine writes to the connection.
	send := make(chan any, 16)
	done := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)

	go s.runWebSocketWriter(conn, send)
	go s.runWebSocketReader(conn, send, done, statusUpdate)

	s.runWebSocketEventLoop(send, done, statusUpdate)
}

// runWebSocketWriter writes messages from the send channel to the connection.
func (s *Server) runWebSocketWriter(conn server.WebSocketConn, send <-chan any) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	ping := time.NewTicker(server.PingInterval)
	defer ping.Stop()

	for {
		select {
		case msg, ok := <-send:
			if !ok {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.Ping(); err != nil {
				slog.Debug("WebSocket ping failed", "error", err)
				return
			}
		}
	}
}

// runWebSocketReader reads commands from the connection and dispatches them.
func (s *Server) runWebSocketReader(conn server.WebSocketConn, send chan<- any, done, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd server.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(cmd, send, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runWebSocketEventLoop pushes levels, status and alerts until the reader exits.
func (s *Server) runWebSocketEventLoop(send chan any, done, statusUpdate <-chan struct{}) {
	levelsTicker := time.NewTicker(types.LevelsInterval)
	statusTicker := time.NewTicker(types.StatusInterval)
	defer levelsTicker.Stop()
	defer statusTicker.Stop()

	alerts := s.alerts.subscribe()
	defer s.alerts.unsubscribe(alerts)

	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !trySend(s.buildWSStatus()) {
		close(send)
		return
	}

	for {
		var msg any
		select {
		case <-done:
			close(send)
			return
		case <-statusUpdate:
			msg = s.buildWSStatus()
		case <-statusTicker.C:
			msg = s.buildWSStatus()
		case <-levelsTicker.C:
			msg = types.WSLevelsResponse{Type: "levels", Meters: s.hub.Telemetry()}
		case a := <-alerts:
			msg = a
		}
		if !trySend(msg) {
			close(send)
			return
		}
	}
}

// buildWSStatus returns the current WebSocket status response.
func (s *Server) buildWSStatus() types.WSStatusResponse {
	cfg := s.config.Snapshot()

	return types.WSStatusResponse{
		Type:            "status",
		Meters:          s.hub.Telemetry(),
		DeviceRefs:      s.hub.DeviceRefs(),
		Backend:         cfg.AudioBackend,
		Devices:         s.Devices(),
		FFmpegAvailable: s.ffmpegAvailable,
		Settings: types.WSSettings{
			RoomName:   cfg.RoomName,
			AudioInput: cfg.AudioInput,
			Limit:      cfg.Meter.Limit,
			Platform:   runtime.GOOS,
		},
		Version: s.version.Info(),
	}
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()
	auth := s.sessions.AuthMiddleware()

	// Public routes (no auth required)
	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/logout", s.handleLogout)
	mux.Handle("/metrics", s.metrics.Handler())

	// The login page needs its stylesheet and icons before a session exists.
	mux.HandleFunc("GET /style.css", s.handleAsset)
	mux.HandleFunc("GET /icons.js", s.handleAsset)
	mux.HandleFunc("GET /favicon.svg", s.handleFavicon)

	// JSON API (session auth)
	mux.HandleFunc("GET /api/meter", auth(s.handleAPIMeter))
	mux.HandleFunc("POST /api/meter/start", auth(s.handleAPIMeterStart))
	mux.HandleFunc("POST /api/meter/stop", auth(s.handleAPIMeterStop))
	mux.HandleFunc("PUT /api/meter/limit", auth(s.handleAPIMeterLimit))
	mux.HandleFunc("GET /api/devices", auth(s.handleAPIDevices))
	mux.HandleFunc("GET /api/events", auth(s.handleAPIEvents))
	mux.HandleFunc("POST /api/notifications/test/{type}", auth(s.handleAPITest))
	mux.HandleFunc("POST /api/archive/test", auth(s.handleAPITestArchive))

	// Protected routes
	mux.HandleFunc("GET /app.js", auth(s.handleAsset))
	mux.HandleFunc("/ws", auth(s.handleWebSocket))
	mux.HandleFunc("/", auth(s.handleIndex))

	return securityHeaders(mux)
}

// securityHeaders sets the headers every response carries. The dashboard
// loads nothing from other origins and is never framed.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "same-origin")
		h.Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; connect-src 'self'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// handleAsset serves an embedded file named by the request path.
func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	http.ServeFileFS(w, r, webFS, path.Join("web", path.Base(r.URL.Path)))
}

// handleFavicon serves the favicon in the room color, or in the alert
// color while the monitor session is alerting so a background tab shows it.
func (s *Server) handleFavicon(w http.ResponseWriter, _ *http.Request) {
	color := s.config.Snapshot().ColorLight
	if t, ok := s.hub.Telemetry()[meter.SessionMonitor]; ok && t.AlertActive {
		color = util.AlertColor
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-cache")
	if err := faviconTmpl.Execute(w, struct{ Color string }{Color: color}); err != nil {
		slog.Error("failed to render favicon", "error", err)
	}
}

// handleLogin handles login page display and form submission.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(server.SessionCookieName); err == nil {
		if s.sessions.Validate(cookie.Value) {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
	}

	cfg := s.config.Snapshot()
	data := loginData{
		pageData:  s.page(),
		CSRFToken: s.sessions.CreateCSRFToken(),
	}

	if r.Method == http.MethodPost {
		if !s.sessions.ValidateCSRFToken(r.FormValue("csrf_token")) {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}

		err := s.sessions.Login(w, r, r.FormValue("username"), r.FormValue("password"), cfg.WebUser, cfg.WebPassword)
		if err == nil {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}

		data.Error = true
		data.Locked = errors.Is(err, server.ErrTooManyAttempts)
		data.CSRFToken = s.sessions.CreateCSRFToken() // New token for retry
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if data.Locked {
		w.WriteHeader(http.StatusTooManyRequests)
	}
	if err := loginTmpl.Execute(w, data); err != nil {
		slog.Error("failed to render login page", "error", err)
	}
}

// handleLogout handles user logout requests.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Logout(w, r)
	http.Redirect(w, r, "/login", http.StatusFound)
}

// handleIndex renders the dashboard. Unknown paths get 404.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTmpl.Execute(w, s.page()); err != nil {
		slog.Error("failed to render dashboard", "error", err)
	}
}

// Start begins the HTTP server.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.config.Snapshot().WebPort)
	slog.Info("starting web server", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}

// Devices returns the cached input device list.
func (s *Server) Devices() []audio.Device {
	s.devicesMu.RLock()
	defer s.devicesMu.RUnlock()
	return s.devices
}

// refreshDevices re-enumerates the inputs of the configured backend.
func (s *Server) refreshDevices() []audio.Device {
	backend := s.config.Snapshot().AudioBackend
	devices, err := capture.Devices(backend)
	if err != nil {
		slog.Warn("failed to list audio devices", "backend", backend, "error", err)
		return s.Devices()
	}

	s.devicesMu.Lock()
	s.devices = devices
	s.devicesMu.Unlock()
	return devices
}
