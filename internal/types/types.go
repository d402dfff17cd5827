// Package types provides shared type definitions used across the noise meter.
package types

import (
	"time"

	"github.com/doananhminh-dev/Class-calm/internal/audio"
)

// MeterState represents the lifecycle state of a meter session.
type MeterState string

const (
	// StateStopped indicates the session is not running.
	StateStopped MeterState = "stopped"
	// StateStarting indicates the session is acquiring the microphone.
	StateStarting MeterState = "starting"
	// StateRunning indicates the session is processing audio.
	StateRunning MeterState = "running"
	// StateStopping indicates the session is shutting down.
	StateStopping MeterState = "stopping"
)

// ExceedingMode selects which detector flag drives a session's exceeding indicator.
type ExceedingMode string

const (
	// ModeSustained reports exceeding only once the limit has held for the sustain duration.
	ModeSustained ExceedingMode = "sustained"
	// ModeInstant reports exceeding as soon as the smoothed level reaches the limit.
	ModeInstant ExceedingMode = "instant"
)

const (
	// ShutdownTimeout is the duration to wait for graceful shutdown.
	ShutdownTimeout = 3000 * time.Millisecond
	// PollInterval is the interval for polling process state.
	PollInterval = 50 * time.Millisecond
	// SourceStartTimeout bounds how long a capture process may take to produce audio.
	SourceStartTimeout = 5000 * time.Millisecond
)

const (
	// LevelsInterval is how often levels are pushed to dashboard clients (10 Hz).
	LevelsInterval = 100 * time.Millisecond
	// StatusInterval is how often full status is pushed to dashboard clients.
	StatusInterval = 3000 * time.Millisecond
)

// Telemetry is the observable state of one meter session.
type Telemetry struct {
	Session       string        `json:"session"`                 // Session name
	State         MeterState    `json:"state"`                   // Lifecycle state
	Mode          ExceedingMode `json:"mode"`                    // Exceeding indicator mode
	Level         int           `json:"level"`                   // Displayed level, rounded
	Smoothed      float64       `json:"smoothed"`                // Unrounded smoothed level
	Raw           float64       `json:"raw"`                     // Last raw loudness reading
	Peak          float64       `json:"peak"`                    // Held peak
	Limit         float64       `json:"limit"`                   // Current limit
	Exceeding     bool          `json:"exceeding"`               // Indicator per Mode
	InstantOver   bool          `json:"instant_over"`            // Smoothed level at or above limit now
	Sustained     bool          `json:"sustained"`               // Limit held for the sustain duration
	ExceedingMs   int64         `json:"exceeding_ms,omitzero"`   // Time in the current exceedance
	AlertActive   bool          `json:"alert_active"`            // An alert is showing
	AlertCount    int64         `json:"alert_count"`             // Alerts fired this session
	LastAlert     time.Time     `json:"last_alert,omitzero"`     // When the last alert fired
	MicActive     bool          `json:"mic_active"`              // Microphone is held by this session
	Uptime        string        `json:"uptime,omitzero"`         // Time since start
	LastError     string        `json:"last_error,omitzero"`     // Most recent start failure
	InvalidFrames int64         `json:"invalid_frames,omitzero"` // Frames rejected by the estimator
}

// WSLevelsResponse is sent to clients with level updates.
type WSLevelsResponse struct {
	Type   string               `json:"type"`   // Message type identifier
	Meters map[string]Telemetry `json:"meters"` // Telemetry per session
}

// WSAlertResponse is sent to clients when an alert fires.
type WSAlertResponse struct {
	Type      string    `json:"type"`       // "alert"
	Session   string    `json:"session"`    // Session that fired
	Level     float64   `json:"level"`      // Smoothed level at firing
	Limit     float64   `json:"limit"`      // Limit at firing
	VibrateMs int       `json:"vibrate_ms"` // Suggested vibration length
	At        time.Time `json:"at"`         // Firing time
}

// WSStatusResponse is sent to clients with full meter status.
type WSStatusResponse struct {
	Type            string               `json:"type"`             // Message type identifier
	Meters          map[string]Telemetry `json:"meters"`           // Telemetry per session
	DeviceRefs      int                  `json:"device_refs"`      // Live microphone handles
	Backend         string               `json:"backend"`          // Capture backend
	Devices         []audio.Device       `json:"devices"`          // Available audio devices
	FFmpegAvailable bool                 `json:"ffmpeg_available"` // FFmpeg binary is available
	Settings        WSSettings           `json:"settings"`         // Current settings
	Version         VersionInfo          `json:"version"`          // Version information
}

// WSSettings contains the settings sub-object in status responses.
type WSSettings struct {
	RoomName   string  `json:"room_name"`   // Classroom display name
	AudioInput string  `json:"audio_input"` // Selected audio input device
	Limit      float64 `json:"limit"`       // Configured limit
	Platform   string  `json:"platform"`    // Operating system platform
}

// WSTestResult is sent to clients after a test operation completes.
type WSTestResult struct {
	Type     string `json:"type"`            // Message type identifier
	TestType string `json:"test_type"`       // Type of test performed
	Success  bool   `json:"success"`         // Test succeeded
	Error    string `json:"error,omitempty"` // Error message if failed
}

// WSEventLogResult is sent to clients with event history.
type WSEventLogResult struct {
	Type    string `json:"type"`              // Message type identifier
	Success bool   `json:"success"`           // Operation succeeded
	Error   string `json:"error,omitempty"`   // Error message if failed
	Entries any    `json:"entries,omitempty"` // Log entries
	HasMore bool   `json:"has_more"`          // More entries are available
	Path    string `json:"path,omitempty"`    // Log file path
}

// GraphConfig contains Microsoft Graph API settings for email notifications.
type GraphConfig struct {
	TenantID     string `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`         // Azure AD tenant ID
	ClientID     string `json:"client_id,omitempty" yaml:"client_id,omitempty"`         // App registration client ID
	ClientSecret string `json:"client_secret,omitempty" yaml:"client_secret,omitempty"` // App registration client secret
	FromAddress  string `json:"from_address,omitempty" yaml:"from_address,omitempty"`   // Shared mailbox address (sender)
	Recipients   string `json:"recipients,omitempty" yaml:"recipients,omitempty"`       // Comma-separated recipients
}

// ZabbixConfig contains settings for sending trapper items to a Zabbix server.
type ZabbixConfig struct {
	Server    string `json:"server,omitempty" yaml:"server,omitempty"`
	Port      int    `json:"port,omitempty" yaml:"port,omitempty"`
	Host      string `json:"host,omitempty" yaml:"host,omitempty"`
	Key       string `json:"key,omitempty" yaml:"key,omitempty"`
	TimeoutMs int    `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// S3Config contains the bucket settings for event log archiving.
type S3Config struct {
	Endpoint        string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`                   // S3-compatible endpoint URL
	Region          string `json:"region,omitempty" yaml:"region,omitempty"`                       // Bucket region
	Bucket          string `json:"bucket,omitempty" yaml:"bucket,omitempty"`                       // Bucket name
	Prefix          string `json:"prefix,omitempty" yaml:"prefix,omitempty"`                       // Key prefix
	AccessKeyID     string `json:"access_key_id,omitempty" yaml:"access_key_id,omitempty"`         // Access key ID
	SecretAccessKey string `json:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty"` // Secret access key
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}
