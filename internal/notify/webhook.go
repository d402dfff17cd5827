package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/doananhminh-dev/Class-calm/internal/alert"
	"github.com/doananhminh-dev/Class-calm/internal/util"
)

// webhookTimeout bounds a single webhook delivery.
const webhookTimeout = 10000 * time.Millisecond

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event     string  `json:"event"`
	Room      string  `json:"room,omitempty"`
	Session   string  `json:"session,omitempty"`
	Level     float64 `json:"level,omitempty"`
	Limit     float64 `json:"limit,omitempty"`
	Message   string  `json:"message,omitempty"`
	Timestamp string  `json:"timestamp"`
}

// SendAlertWebhook notifies the webhook of a noise alert.
func SendAlertWebhook(ctx context.Context, webhookURL, room string, a alert.Alert) error {
	return sendWebhook(ctx, webhookURL, &WebhookPayload{
		Event:     EventNoiseAlert,
		Room:      room,
		Session:   a.Session,
		Level:     a.Level,
		Limit:     a.Limit,
		Timestamp: timestampUTC(a.At),
	})
}

// SendTestWebhook sends a test webhook notification.
func SendTestWebhook(ctx context.Context, webhookURL, room string) error {
	if webhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	return sendWebhook(ctx, webhookURL, &WebhookPayload{
		Event:     EventTest,
		Room:      room,
		Message:   "This is a test notification from " + AppName,
		Timestamp: timestampUTC(time.Now()),
	})
}

// sendWebhook posts payload to the webhook endpoint.
func sendWebhook(ctx context.Context, webhookURL string, payload *WebhookPayload) error {
	if !util.IsConfigured(webhookURL) {
		return nil // Silently skip if not configured
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return util.WrapError("create webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", AppName)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "webhook response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
