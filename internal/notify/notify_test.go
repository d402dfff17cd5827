package notify

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/doananhminh-dev/Class-calm/internal/alert"
	"github.com/doananhminh-dev/Class-calm/internal/config"
	"github.com/doananhminh-dev/Class-calm/internal/types"
)

func testAlert() alert.Alert {
	return alert.Alert{
		At:        time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC),
		Session:   "monitor",
		Level:     72.4,
		Limit:     60,
		VibrateMs: 200,
	}
}

func TestSendAlertWebhook(t *testing.T) {
	var got WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, SendAlertWebhook(context.Background(), srv.URL, "Room 12", testAlert()))
	require.Equal(t, EventNoiseAlert, got.Event)
	require.Equal(t, "Room 12", got.Room)
	require.Equal(t, "monitor", got.Session)
	require.InDelta(t, 72.4, got.Level, 1e-9)
	require.Equal(t, "2026-03-02T10:15:00Z", got.Timestamp)
}

func TestSendWebhookErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	require.ErrorContains(t, SendAlertWebhook(context.Background(), srv.URL, "Room", testAlert()), "status 502")
	require.NoError(t, SendAlertWebhook(context.Background(), "", "Room", testAlert()))
	require.Error(t, SendTestWebhook(context.Background(), "", "Room"))
}

func TestLogAlert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.jsonl")

	require.NoError(t, LogAlert(path, "Room 12", testAlert()))
	require.NoError(t, WriteTestLog(path, "Room 12"))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []LogEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e LogEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.Len(t, entries, 2)
	require.Equal(t, EventNoiseAlert, entries[0].Event)
	require.InDelta(t, 60.0, entries[0].Limit, 1e-9)
	require.Equal(t, EventTest, entries[1].Event)

	require.Error(t, WriteTestLog("", "Room"))
}

func TestZabbixFrame(t *testing.T) {
	frame := encodeZabbixFrame([]byte(`{"request":"sender data"}`))
	require.Equal(t, "ZBXD\x01", string(frame[:5]))

	body, err := readZabbixFrame(bytes.NewReader(frame))
	require.NoError(t, err)
	require.JSONEq(t, `{"request":"sender data"}`, string(body))

	_, err = readZabbixFrame(bytes.NewReader([]byte("HTTP/1.1 200 OK\r\n")))
	require.Error(t, err)
}

// fakeZabbix accepts one connection, records the request, and answers with info.
func fakeZabbix(t *testing.T, info string) (types.ZabbixConfig, <-chan zabbixRequest) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	got := make(chan zabbixRequest, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		body, err := readZabbixFrame(conn)
		if err != nil {
			return
		}
		var req zabbixRequest
		if json.Unmarshal(body, &req) == nil {
			got <- req
		}
		reply, _ := json.Marshal(zabbixResponse{Response: "success", Info: info})
		_, _ = conn.Write(encodeZabbixFrame(reply))
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return types.ZabbixConfig{
		Server:    "127.0.0.1",
		Port:      addr.Port,
		Host:      "room12",
		Key:       "noise.alert",
		TimeoutMs: 2000,
	}, got
}

func TestSendAlertZabbix(t *testing.T) {
	cfg, got := fakeZabbix(t, "processed: 1; failed: 0; total: 1; seconds spent: 0.0001")

	require.NoError(t, SendAlertZabbix(context.Background(), &cfg, testAlert()))

	req := <-got
	require.Equal(t, "sender data", req.Request)
	require.Len(t, req.Data, 1)
	require.Equal(t, "room12", req.Data[0].Host)
	require.Equal(t, "event=NOISE session=monitor level=72.4 limit=60.0", req.Data[0].Value)
}

func TestSendZabbixUnprocessed(t *testing.T) {
	cfg, _ := fakeZabbix(t, "processed: 0; failed: 0; total: 1; seconds spent: 0.0001")
	require.ErrorContains(t, SendTestZabbix(context.Background(), &cfg), "processed no items")
}

func TestGraphSendMailRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/users/alerts@school.example/sendMail", r.URL.Path)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req graphMailRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Message.ToRecipients, 2)
		require.Equal(t, "high", req.Message.Importance)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := newGraphClientWithHTTP(srv.URL, "alerts@school.example", srv.Client())
	client.retryWait = time.Millisecond

	err := sendAlertEmail(context.Background(), client, "a@school.example, b@school.example", "Room 12", testAlert())
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
}

func TestGraphSendMailPermanentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := newGraphClientWithHTTP(srv.URL, "alerts@school.example", srv.Client())
	err := client.SendMail(context.Background(), Mail{To: []string{"a@school.example"}, Subject: "s", Body: "b"})
	require.ErrorContains(t, err, "graph API error 400")
}

func TestValidateConfig(t *testing.T) {
	cfg := &types.GraphConfig{
		TenantID:     "12345678-1234-1234-1234-123456789abc",
		ClientID:     "12345678-1234-1234-1234-123456789abc",
		ClientSecret: "secret",
		FromAddress:  "alerts@school.example",
		Recipients:   " , ",
	}
	require.ErrorContains(t, ValidateConfig(cfg), "recipients")

	cfg.Recipients = "a@school.example"
	require.NoError(t, ValidateConfig(cfg))

	cfg.TenantID = "school"
	require.ErrorContains(t, ValidateConfig(cfg), "GUID")
}

func TestParseRecipients(t *testing.T) {
	require.Equal(t, []string{"a@x", "b@x"}, ParseRecipients(" a@x, ,b@x ,"))
	require.Equal(t, []string{"head@school.example"},
		ParseRecipients("Head Teacher <head@school.example>, HEAD@school.example"))
	require.Nil(t, ParseRecipients(""))
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.Equal(t, 5*time.Second, retryAfter("5", now))
	require.Equal(t, 30*time.Second, retryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
	require.Zero(t, retryAfter("", now))
	require.Zero(t, retryAfter("soon", now))
	require.Zero(t, retryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
}

func TestNotifierDeliversToConfiguredChannels(t *testing.T) {
	dir := t.TempDir()
	cfg := config.New(filepath.Join(dir, "config.json"))
	require.NoError(t, cfg.Load())

	var hooks atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hooks.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logPath := filepath.Join(dir, "alerts.jsonl")
	require.NoError(t, cfg.SetWebhookURL(srv.URL))
	require.NoError(t, cfg.SetLogPath(logPath))

	n := NewNotifier(cfg)
	require.NoError(t, n.Trigger(context.Background(), testAlert()))
	require.NoError(t, n.Trigger(context.Background(), testAlert()))
	n.Close(5 * time.Second)

	require.Equal(t, int32(2), hooks.Load())
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Contains(t, string(data), EventNoiseAlert)

	// Triggers after Close are dropped.
	require.NoError(t, n.Trigger(context.Background(), testAlert()))
	require.Equal(t, int32(2), hooks.Load())
}

func TestNotifierWithoutChannels(t *testing.T) {
	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, cfg.Load())

	n := NewNotifier(cfg)
	require.NoError(t, n.Trigger(context.Background(), testAlert()))
	require.Zero(t, n.Pending())
	n.Close(time.Second)
}
