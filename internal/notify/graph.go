package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/doananhminh-dev/Class-calm/internal/types"
	"github.com/doananhminh-dev/Class-calm/internal/util"
)

const (
	graphScope       = "https://graph.microsoft.com/.default"
	tokenURLTemplate = "https://login.microsoftonline.com/%s/oauth2/v2.0/token" //nolint:gosec // URL template, not a credential

	// DefaultGraphBaseURL is the Microsoft Graph v1.0 endpoint.
	DefaultGraphBaseURL = "https://graph.microsoft.com/v1.0"

	maxRetries       = 3
	initialRetryWait = 1 * time.Second
	maxRetryWait     = 30 * time.Second
	httpTimeout      = 30 * time.Second
)

// graphValidate checks Graph credentials. Tenant and client IDs are GUIDs.
var graphValidate = validator.New()

type graphCredentials struct {
	TenantID     string `validate:"required,uuid"`
	ClientID     string `validate:"required,uuid"`
	ClientSecret string `validate:"required"`
	FromAddress  string `validate:"required,email"`
}

var credentialLabels = map[string]string{
	"TenantID":     "tenant ID",
	"ClientID":     "client ID",
	"ClientSecret": "client secret",
	"FromAddress":  "from address (shared mailbox)",
}

// validateCredentials reports the first missing or malformed credential.
// With strict unset only presence is checked, so a client can be built from
// settings saved before GUID checks existed.
func validateCredentials(cfg *types.GraphConfig, strict bool) error {
	creds := graphCredentials{
		TenantID:     strings.ToLower(cfg.TenantID),
		ClientID:     strings.ToLower(cfg.ClientID),
		ClientSecret: cfg.ClientSecret,
		FromAddress:  cfg.FromAddress,
	}
	err := graphValidate.Struct(creds)

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	for _, fe := range fieldErrs {
		label := credentialLabels[fe.Field()]
		switch fe.Tag() {
		case "required":
			return fmt.Errorf("%s is required", label)
		case "uuid":
			if strict {
				return fmt.Errorf("%s must be a valid GUID (e.g., 12345678-1234-1234-1234-123456789abc)", label)
			}
		case "email":
			if strict {
				return fmt.Errorf("%s must be a valid email address", label)
			}
		}
	}
	return nil
}

// GraphClient sends emails via Microsoft Graph API.
type GraphClient struct {
	baseURL     string
	fromAddress string
	httpClient  *http.Client
	retryWait   time.Duration
}

// NewGraphClient creates a new email client authenticated with client credentials.
func NewGraphClient(cfg *types.GraphConfig) (*GraphClient, error) {
	if err := validateCredentials(cfg, false); err != nil {
		return nil, err
	}

	conf := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf(tokenURLTemplate, cfg.TenantID),
		Scopes:       []string{graphScope},
	}

	// The token source uses this client too, so token fetches are bounded as well.
	baseClient := &http.Client{Timeout: httpTimeout}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, baseClient)

	return newGraphClientWithHTTP(DefaultGraphBaseURL, cfg.FromAddress, conf.Client(ctx)), nil
}

// newGraphClientWithHTTP builds a client against baseURL using an already
// authenticated HTTP client.
func newGraphClientWithHTTP(baseURL, fromAddress string, httpClient *http.Client) *GraphClient {
	return &GraphClient{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		fromAddress: fromAddress,
		httpClient:  httpClient,
		retryWait:   initialRetryWait,
	}
}

// Mail is one plain text message.
type Mail struct {
	To      []string
	Subject string
	Body    string
	Urgent  bool // Sent with high importance so mail clients flag it
}

type graphMailRequest struct {
	Message graphMessage `json:"message"`
}

type graphMessage struct {
	Subject      string           `json:"subject"`
	Importance   string           `json:"importance"`
	Body         graphBody        `json:"body"`
	ToRecipients []graphRecipient `json:"toRecipients"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphRecipient struct {
	EmailAddress struct {
		Address string `json:"address"`
	} `json:"emailAddress"`
}

// SendMail delivers m through the shared mailbox.
func (c *GraphClient) SendMail(ctx context.Context, m Mail) error {
	to := make([]graphRecipient, 0, len(m.To))
	for _, addr := range m.To {
		if addr = strings.TrimSpace(addr); addr != "" {
			var r graphRecipient
			r.EmailAddress.Address = addr
			to = append(to, r)
		}
	}
	if len(to) == 0 {
		return errors.New("no recipients specified")
	}

	importance := "normal"
	if m.Urgent {
		importance = "high"
	}
	jsonData, err := json.Marshal(graphMailRequest{Message: graphMessage{
		Subject:      m.Subject,
		Importance:   importance,
		Body:         graphBody{ContentType: "Text", Content: m.Body},
		ToRecipients: to,
	}})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.doWithRetry(ctx, jsonData)
}

// doWithRetry posts the message, retrying throttled and transient failures.
func (c *GraphClient) doWithRetry(ctx context.Context, jsonData []byte) error {
	apiURL := fmt.Sprintf("%s/users/%s/sendMail", c.baseURL, url.PathEscape(c.fromAddress))
	backoff := util.NewBackoff(c.retryWait, maxRetryWait).WithJitter(0.2)

	var lastErr error
	for attempt := range maxRetries + 1 {
		if attempt > 0 {
			if err := backoff.Wait(ctx); err != nil {
				return fmt.Errorf("retry aborted: %w (last error: %w)", err, lastErr)
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(jsonData))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("send request: %w", err)
			continue
		}
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			if wait := retryAfter(resp.Header.Get("Retry-After"), time.Now()); wait > 0 {
				if err := util.SleepContext(ctx, min(wait, maxRetryWait)); err != nil {
					return err
				}
			}
			lastErr = fmt.Errorf("graph API rate limited (429): %s", respBody)
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("graph API returned %d: %s", resp.StatusCode, respBody)
		default:
			return fmt.Errorf("graph API error %d: %s", resp.StatusCode, respBody)
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// retryAfter parses a Retry-After header given as seconds or an HTTP date.
func retryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(max(seconds, 0)) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(t.Sub(now), 0)
	}
	return 0
}

// ValidateAuth verifies that the credentials can obtain a token and reach the mailbox.
func (c *GraphClient) ValidateAuth(ctx context.Context) error {
	apiURL := fmt.Sprintf("%s/users/%s", c.baseURL, url.PathEscape(c.fromAddress))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("create validation request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer util.SafeCloseFunc(resp.Body, "graph validation response")()

	// 403 means the token is valid but lacks User.Read, which Mail.Send does not need.
	switch resp.StatusCode {
	case http.StatusOK, http.StatusForbidden:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("mailbox %s not found", c.fromAddress)
	case http.StatusUnauthorized:
		return errors.New("authentication failed: invalid credentials")
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("validation failed with status %d: %s", resp.StatusCode, body)
	}
}

// ValidateConfig validates that cfg has all required fields.
func ValidateConfig(cfg *types.GraphConfig) error {
	if err := validateCredentials(cfg, true); err != nil {
		return err
	}
	if len(ParseRecipients(cfg.Recipients)) == 0 {
		return errors.New("recipients are required")
	}
	return nil
}

// ParseRecipients splits a comma-separated list into bare addresses.
// "Name <addr>" entries are reduced to addr and duplicates are dropped.
func ParseRecipients(recipients string) []string {
	var result []string
	for r := range strings.SplitSeq(recipients, ",") {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if a, err := mail.ParseAddress(r); err == nil {
			r = a.Address
		}
		if !slices.ContainsFunc(result, func(s string) bool { return strings.EqualFold(s, r) }) {
			result = append(result, r)
		}
	}
	return result
}
