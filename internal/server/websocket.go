package server

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = wsPongWait * 9 / 10
	wsMaxMessage   = 64 << 10 // Commands are small JSON objects
)

// WebSocketConn is the interface for WebSocket connection operations.
type WebSocketConn interface {
	io.Closer
	WriteJSON(v any) error
	ReadJSON(v any) error
	Ping() error
}

// PingInterval is how often the dashboard writer should call Ping.
const PingInterval = wsPingInterval

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     checkOrigin,
}

// checkOrigin reports whether the WebSocket connection origin is allowed.
// Classroom displays are reached by LAN address, so private ranges pass.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		slog.Warn("rejected WebSocket connection: invalid origin URL", "origin", origin)
		return false
	}

	host := u.Hostname()
	if host == "localhost" {
		return true
	}

	requestHost := r.Host
	if h, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = h
	}
	if host == requestHost {
		return true
	}

	if ip := net.ParseIP(host); ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
		return true
	}

	slog.Warn("rejected WebSocket connection", "origin", origin, "host", host)
	return false
}

// conn applies deadlines and keepalive to a gorilla connection.
type conn struct {
	ws *websocket.Conn
}

// UpgradeConnection upgrades an HTTP connection to WebSocket. The returned
// connection drops readers that stop answering pings within wsPongWait.
func UpgradeConnection(w http.ResponseWriter, r *http.Request) (WebSocketConn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(wsMaxMessage)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	return &conn{ws: ws}, nil
}

func (c *conn) WriteJSON(v any) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return c.ws.WriteJSON(v)
}

func (c *conn) ReadJSON(v any) error {
	if err := c.ws.ReadJSON(v); err != nil {
		return err
	}
	// Any command counts as a sign of life.
	return c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
}

// Ping sends a ping control frame.
func (c *conn) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func (c *conn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}
