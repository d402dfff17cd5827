package server

// Request types for WebSocket commands with validation tags.
// These types define the expected input for each command and use
// go-playground/validator struct tags for automatic validation.

// --- Meter sessions ---

// MeterSessionRequest is the request body for meter/start and meter/stop.
// An empty session applies to every session.
type MeterSessionRequest struct {
	Session string `json:"session" validate:"omitempty,max=64"`
}

// MeterUpdateRequest is the request body for meter/update.
// Only the limit applies to running sessions; the other fields take effect on the next start.
type MeterUpdateRequest struct {
	Limit           *float64 `json:"limit" validate:"omitempty,gte=30,lte=100"`
	Gain            *float64 `json:"gain" validate:"omitempty,gt=0,lte=1000"`
	NoiseFloor      *float64 `json:"noise_floor" validate:"omitempty,gte=0,lt=100"`
	Alpha           *float64 `json:"alpha" validate:"omitempty,gt=0,lte=1"`
	MaxStep         *float64 `json:"max_step" validate:"omitempty,gte=0,lte=100"`
	Hysteresis      *float64 `json:"hysteresis" validate:"omitempty,gte=0,lt=100"`
	SustainMs       *int64   `json:"sustain_ms" validate:"omitempty,gte=0,lte=60000"`
	AlertDurationMs *int64   `json:"alert_duration_ms" validate:"omitempty,gt=0,lte=60000"`
	CooldownMs      *int64   `json:"cooldown_ms" validate:"omitempty,gte=0,lte=3600000"`
}

// --- Audio settings ---

// AudioUpdateRequest is the request body for audio/update.
type AudioUpdateRequest struct {
	Input   *string `json:"input" validate:"omitempty,max=256"`
	Backend *string `json:"backend" validate:"omitempty,oneof=malgo command synthetic"`
}

// --- Notification settings ---

// WebhookUpdateRequest is the request body for notifications/webhook/update.
type WebhookUpdateRequest struct {
	URL string `json:"url" validate:"omitempty,url,max=2048"`
}

// LogUpdateRequest is the request body for notifications/log/update.
type LogUpdateRequest struct {
	Path string `json:"path" validate:"omitempty,max=4096"`
}

// EmailUpdateRequest is the request body for notifications/email/update.
type EmailUpdateRequest struct {
	TenantID     string `json:"tenant_id" validate:"omitempty,max=100"`
	ClientID     string `json:"client_id" validate:"omitempty,max=100"`
	ClientSecret string `json:"client_secret" validate:"omitempty,max=500"`
	FromAddress  string `json:"from_address" validate:"omitempty,email,max=254"`
	Recipients   string `json:"recipients" validate:"omitempty,max=1000"`
}

// ZabbixUpdateRequest is the request body for notifications/zabbix/update.
type ZabbixUpdateRequest struct {
	Server    string `json:"server" validate:"omitempty,max=253"`
	Port      int    `json:"port" validate:"omitempty,gte=1,lte=65535"`
	Host      string `json:"host" validate:"omitempty,max=253"`
	Key       string `json:"key" validate:"omitempty,max=256"`
	TimeoutMs int    `json:"timeout_ms" validate:"omitempty,gte=100,lte=60000"`
}

// --- Event history ---

// EventsViewRequest is the request body for events/view.
type EventsViewRequest struct {
	Limit  int    `json:"limit" validate:"omitempty,gte=1,lte=500"`
	Offset int    `json:"offset" validate:"omitempty,gte=0"`
	Filter string `json:"filter" validate:"omitempty,oneof=session noise alert"`
}

// --- Archive ---

// ArchiveUpdateRequest is the request body for archive/update.
type ArchiveUpdateRequest struct {
	Enabled         bool   `json:"enabled"`
	IntervalMinutes int    `json:"interval_minutes" validate:"omitempty,gte=5,lte=10080"`
	Endpoint        string `json:"endpoint" validate:"omitempty,url,max=2048"`
	Region          string `json:"region" validate:"omitempty,max=64"`
	Bucket          string `json:"bucket" validate:"required_if=Enabled true,max=63"`
	Prefix          string `json:"prefix" validate:"omitempty,max=512"`
	AccessKeyID     string `json:"access_key_id" validate:"required_if=Enabled true,max=128"`
	SecretAccessKey string `json:"secret_access_key" validate:"required_if=Enabled true,max=256"`
}
