package notify

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/doananhminh-dev/Class-calm/internal/alert"
	"github.com/doananhminh-dev/Class-calm/internal/types"
	"github.com/doananhminh-dev/Class-calm/internal/util"
)

// Zabbix protocol constants.
const (
	DefaultZabbixPort    = 10051
	defaultZabbixTimeout = 5 * time.Second
	zabbixHeaderSize     = 13        // "ZBXD\x01" (5) + uint64 length (8)
	maxReplySize         = 64 * 1024 // 64KB max reply to prevent memory exhaustion
)

// zabbixMagic is the protocol header prefix.
var zabbixMagic = [5]byte{'Z', 'B', 'X', 'D', 0x01}

// Zabbix protocol types.
type zabbixRequest struct {
	Request string       `json:"request"`
	Data    []zabbixItem `json:"data"`
}

type zabbixItem struct {
	Host  string `json:"host"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type zabbixResponse struct {
	Response string `json:"response"`
	Info     string `json:"info"`
}

// encodeZabbixFrame prefixes data with the sender protocol header.
func encodeZabbixFrame(data []byte) []byte {
	frame := make([]byte, zabbixHeaderSize+len(data))
	copy(frame[0:5], zabbixMagic[:])
	binary.LittleEndian.PutUint64(frame[5:zabbixHeaderSize], uint64(len(data)))
	copy(frame[zabbixHeaderSize:], data)
	return frame
}

// readZabbixFrame reads one framed message from r.
func readZabbixFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, zabbixHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, util.WrapError("read zabbix header", err)
	}
	if !bytes.Equal(header[0:5], zabbixMagic[:]) {
		return nil, fmt.Errorf("invalid zabbix header")
	}

	size := binary.LittleEndian.Uint64(header[5:zabbixHeaderSize])
	if size == 0 {
		return nil, fmt.Errorf("empty zabbix message")
	}
	if size > maxReplySize {
		return nil, fmt.Errorf("zabbix message too large: %d bytes (max %d)", size, maxReplySize)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, util.WrapError("read zabbix body", err)
	}
	return body, nil
}

// sendZabbixPayload sends a payload to the Zabbix server and checks the reply.
func sendZabbixPayload(ctx context.Context, cfg *types.ZabbixConfig, payload zabbixRequest) error {
	timeout := defaultZabbixTimeout
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultZabbixPort
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(cfg.Server, strconv.Itoa(port)))
	if err != nil {
		return util.WrapError("connect to zabbix", err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return util.WrapError("set deadline", err)
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal zabbix payload", err)
	}
	if _, err := conn.Write(encodeZabbixFrame(data)); err != nil {
		return util.WrapError("write zabbix payload", err)
	}

	reply, err := readZabbixFrame(conn)
	if err != nil {
		return err
	}

	var resp zabbixResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return util.WrapError("parse zabbix reply", err)
	}

	// Check for explicit failure response
	if resp.Response == "failed" {
		return fmt.Errorf("zabbix rejected data: %s", resp.Info)
	}

	// Check for no items processed (host/key not found in Zabbix)
	if strings.Contains(resp.Info, "processed: 0;") && strings.Contains(resp.Info, "failed: 0;") {
		return fmt.Errorf("zabbix processed no items (check host/key config)")
	}

	return nil
}

// sendZabbixValue sends one trapper value.
func sendZabbixValue(ctx context.Context, cfg *types.ZabbixConfig, value string) error {
	if !util.IsConfigured(cfg.Server, cfg.Host, cfg.Key) {
		return nil
	}
	return sendZabbixPayload(ctx, cfg, zabbixRequest{
		Request: "sender data",
		Data:    []zabbixItem{{Host: cfg.Host, Key: cfg.Key, Value: value}},
	})
}

// SendAlertZabbix reports a noise alert to Zabbix.
func SendAlertZabbix(ctx context.Context, cfg *types.ZabbixConfig, a alert.Alert) error {
	return sendZabbixValue(ctx, cfg,
		fmt.Sprintf("event=NOISE session=%s level=%.1f limit=%.1f", a.Session, a.Level, a.Limit))
}

// SendTestZabbix sends a test message to verify Zabbix config.
func SendTestZabbix(ctx context.Context, cfg *types.ZabbixConfig) error {
	if !util.IsConfigured(cfg.Server, cfg.Host, cfg.Key) {
		return fmt.Errorf("zabbix server/host/key not configured")
	}
	return sendZabbixValue(ctx, cfg, "event=TEST source=class-calm")
}
