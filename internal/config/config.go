// Package config provides application configuration management.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/doananhminh-dev/Class-calm/internal/audio"
	"github.com/doananhminh-dev/Class-calm/internal/types"
	"github.com/doananhminh-dev/Class-calm/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort         = 8080
	DefaultWebUsername     = "admin"
	DefaultWebPassword     = "classcalm"
	DefaultRoomName        = "Classroom"
	DefaultColorLight      = "#2E7D32"
	DefaultColorDark       = "#66BB6A"
	DefaultAudioBackend    = "malgo"
	DefaultArchiveInterval = 60 // minutes

	// DefaultSaveDelay coalesces bursts of limit changes into one write.
	DefaultSaveDelay = 500 * time.Millisecond
)

// ErrConfigOutOfRange is returned when a meter setting is outside its accepted range.
var ErrConfigOutOfRange = audio.ErrConfigOutOfRange

// ErrInvalidConfig is returned for any other invalid setting.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validation patterns define regular expressions for configuration value validation.
var (
	// Room name: any printable characters except control chars (blocks CRLF injection in emails)
	roomNamePattern = regexp.MustCompile(`^[^\x00-\x1F\x7F]+$`)
	colorPattern    = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)
)

// validate is the validator for configuration structs.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})
}

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	FFmpegPath string `json:"ffmpeg_path" yaml:"ffmpeg_path"`                          // Path to FFmpeg binary (empty = use PATH)
	Port       int    `json:"port" yaml:"port" validate:"gte=1,lte=65535"`             // HTTP server port
	Username   string `json:"username" yaml:"username" validate:"required,max=64"`     // Login username
	Password   string `json:"password" yaml:"password" validate:"required,max=256"`    // Login password
}

// WebConfig holds branding settings for the monitor page.
type WebConfig struct {
	RoomName   string `json:"room_name" yaml:"room_name"`     // Classroom display name
	ColorLight string `json:"color_light" yaml:"color_light"` // Theme color for light mode (#RRGGBB)
	ColorDark  string `json:"color_dark" yaml:"color_dark"`   // Theme color for dark mode (#RRGGBB)
}

// AudioConfig holds audio input settings.
type AudioConfig struct {
	Backend   string `json:"backend" yaml:"backend" validate:"omitempty,oneof=malgo command synthetic"` // Capture backend
	Input     string `json:"input" yaml:"input" validate:"max=256"`                                     // Audio input device identifier
	FrameSize int    `json:"frame_size" yaml:"frame_size" validate:"omitempty,gte=256,lte=16384"`      // Samples per analysis frame
}

// MeterConfig holds the meter calibration and alert timing.
type MeterConfig struct {
	Limit           float64 `json:"limit" yaml:"limit" validate:"gte=30,lte=100"`                            // Alert threshold on the 0-100 scale
	Gain            float64 `json:"gain" yaml:"gain" validate:"gt=0,lte=1000"`                               // RMS to display-scale multiplier
	NoiseFloor      float64 `json:"noise_floor" yaml:"noise_floor" validate:"gte=0,lt=100"`                  // Gate threshold
	Alpha           float64 `json:"alpha" yaml:"alpha" validate:"gt=0,lte=1"`                                // Smoothing factor
	MaxStep         float64 `json:"max_step" yaml:"max_step" validate:"gte=0,lte=100"`                       // Per-iteration step bound, 0 disables
	Hysteresis      float64 `json:"hysteresis" yaml:"hysteresis" validate:"gte=0,ltfield=Limit"`             // Clear margin below the limit
	SustainMs       int64   `json:"sustain_ms" yaml:"sustain_ms" validate:"gte=0,lte=60000"`                 // Time over the limit before alerting
	AlertDurationMs int64   `json:"alert_duration_ms" yaml:"alert_duration_ms" validate:"gt=0,lte=60000"`    // How long an alert stays active
	CooldownMs      int64   `json:"cooldown_ms" yaml:"cooldown_ms" validate:"gte=0,lte=3600000"`             // Minimum time between alerts
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url" yaml:"url" validate:"omitempty,url,max=2048"` // Webhook URL for noise alerts
}

// LogConfig holds log file notification settings.
type LogConfig struct {
	Path string `json:"path" yaml:"path" validate:"max=4096"` // Log file path for noise alerts
}

// EmailConfig holds Microsoft Graph email notification settings.
type EmailConfig struct {
	TenantID     string `json:"tenant_id" yaml:"tenant_id" validate:"max=100"`         // Azure AD tenant ID
	ClientID     string `json:"client_id" yaml:"client_id" validate:"max=100"`         // App registration client ID
	ClientSecret string `json:"client_secret" yaml:"client_secret" validate:"max=500"` // App registration client secret
	FromAddress  string `json:"from_address" yaml:"from_address" validate:"max=254"`   // Shared mailbox sender address
	Recipients   string `json:"recipients" yaml:"recipients" validate:"max=1000"`      // Comma-separated recipient addresses
}

// NotificationsConfig holds all notification channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig      `json:"webhook" yaml:"webhook"` // Webhook settings
	Log     LogConfig          `json:"log" yaml:"log"`         // Log file settings
	Email   EmailConfig        `json:"email" yaml:"email"`     // Email settings
	Zabbix  types.ZabbixConfig `json:"zabbix" yaml:"zabbix"`   // Zabbix trapper settings
}

// EventLogConfig holds the event history settings.
type EventLogConfig struct {
	Path string `json:"path" yaml:"path" validate:"max=4096"` // JSON lines file (empty = platform default)
}

// ArchiveConfig holds event log archiving settings.
type ArchiveConfig struct {
	Enabled         bool           `json:"enabled" yaml:"enabled"`                                                       // Periodic upload enabled
	IntervalMinutes int            `json:"interval_minutes" yaml:"interval_minutes" validate:"omitempty,gte=5,lte=10080"` // Upload interval
	S3              types.S3Config `json:"s3" yaml:"s3"`                                                                 // Bucket settings
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System        SystemConfig        `json:"system" yaml:"system"`
	Web           WebConfig           `json:"web" yaml:"web"`
	Audio         AudioConfig         `json:"audio" yaml:"audio"`
	Meter         MeterConfig         `json:"meter" yaml:"meter"`
	Notifications NotificationsConfig `json:"notifications" yaml:"notifications"`
	EventLog      EventLogConfig      `json:"event_log" yaml:"event_log"`
	Archive       ArchiveConfig       `json:"archive" yaml:"archive"`

	mu        sync.RWMutex
	filePath  string
	debounced func(func())
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	meter := audio.DefaultMeterConfig()
	return &Config{
		System: SystemConfig{
			Port:     DefaultWebPort,
			Username: DefaultWebUsername,
			Password: DefaultWebPassword,
		},
		Web: WebConfig{
			RoomName:   DefaultRoomName,
			ColorLight: DefaultColorLight,
			ColorDark:  DefaultColorDark,
		},
		Audio: AudioConfig{
			Backend:   DefaultAudioBackend,
			FrameSize: audio.DefaultFrameSize,
		},
		Meter: MeterConfig{
			Limit:           meter.Limit,
			Gain:            meter.Gain,
			NoiseFloor:      meter.NoiseFloor,
			Alpha:           meter.Alpha,
			MaxStep:         meter.MaxStep,
			Hysteresis:      meter.Hysteresis,
			SustainMs:       meter.Sustain.Milliseconds(),
			AlertDurationMs: meter.AlertDuration.Milliseconds(),
			CooldownMs:      meter.Cooldown.Milliseconds(),
		},
		Archive: ArchiveConfig{
			IntervalMinutes: DefaultArchiveInterval,
		},
		filePath:  filePath,
		debounced: debounce.New(DefaultSaveDelay),
	}
}

// Path returns the configuration file path.
func (c *Config) Path() string {
	return c.filePath
}

// Load reads config from file, creating a default if none exists.
// Keys missing from the file keep their defaults.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if isYAML(c.filePath) {
		err = yaml.Unmarshal(data, c)
	} else {
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	return c.validate()
}

// Save writes the configuration immediately.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

// validate checks all configuration fields for correctness.
func (c *Config) validate() error {
	// Validate room name
	name := c.Web.RoomName
	if name == "" || len(name) > 40 || !roomNamePattern.MatchString(name) {
		return fmt.Errorf("%w: room_name %q must be 1-40 printable characters", ErrInvalidConfig, name)
	}
	// Validate colors
	if !colorPattern.MatchString(c.Web.ColorLight) {
		return fmt.Errorf("%w: color_light %q must be hex format (#RRGGBB)", ErrInvalidConfig, c.Web.ColorLight)
	}
	if !colorPattern.MatchString(c.Web.ColorDark) {
		return fmt.Errorf("%w: color_dark %q must be hex format (#RRGGBB)", ErrInvalidConfig, c.Web.ColorDark)
	}

	if err := validate.Struct(c); err != nil {
		return validationError(err)
	}
	return c.meterConfigLocked().Validate()
}

// validationError converts validator output into a config error. Failures in
// the meter section wrap ErrConfigOutOfRange.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return util.WrapError("validate config", err)
	}

	sentinel := ErrInvalidConfig
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := strings.TrimPrefix(e.Namespace(), "Config.")
		if strings.HasPrefix(field, "meter.") {
			sentinel = ErrConfigOutOfRange
		}
		msgs = append(msgs, field+" "+util.ValidationMessage(e.Tag(), e.Param()))
	}
	return fmt.Errorf("%w: %s", sentinel, strings.Join(msgs, "; "))
}

// applyDefaults sets default values for fields where zero is not meaningful.
func (c *Config) applyDefaults() {
	// System defaults
	if c.System.Port == 0 {
		c.System.Port = DefaultWebPort
	}
	if c.System.Username == "" {
		c.System.Username = DefaultWebUsername
	}
	if c.System.Password == "" {
		c.System.Password = DefaultWebPassword
	}
	// Web defaults
	if c.Web.RoomName == "" {
		c.Web.RoomName = DefaultRoomName
	}
	if c.Web.ColorLight == "" {
		c.Web.ColorLight = DefaultColorLight
	}
	if c.Web.ColorDark == "" {
		c.Web.ColorDark = DefaultColorDark
	}
	// Audio defaults
	if c.Audio.Backend == "" {
		c.Audio.Backend = DefaultAudioBackend
	}
	if c.Audio.FrameSize == 0 {
		c.Audio.FrameSize = audio.DefaultFrameSize
	}
	// Meter defaults
	if c.Meter.Limit == 0 {
		c.Meter.Limit = audio.DefaultLimit
	}
	if c.Meter.Gain == 0 {
		c.Meter.Gain = audio.DefaultGain
	}
	if c.Meter.Alpha == 0 {
		c.Meter.Alpha = audio.DefaultAlpha
	}
	if c.Meter.AlertDurationMs == 0 {
		c.Meter.AlertDurationMs = audio.DefaultAlertDuration.Milliseconds()
	}
	// Archive defaults
	if c.Archive.IntervalMinutes == 0 {
		c.Archive.IntervalMinutes = DefaultArchiveInterval
	}
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	var (
		data []byte
		err  error
	)
	if isYAML(c.filePath) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// saveLater persists the configuration after DefaultSaveDelay of quiet.
func (c *Config) saveLater() {
	c.debounced(func() {
		if err := c.Save(); err != nil {
			slog.Error("failed to save config", "path", c.filePath, "error", err)
		}
	})
}

// Flush drops any pending debounced write and saves immediately.
func (c *Config) Flush() error {
	c.debounced(func() {})
	return c.Save()
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// --- Getters for individual settings ---

// AudioInput returns the configured audio input device.
func (c *Config) AudioInput() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Audio.Input
}

// FFmpegPath returns the configured FFmpeg binary path.
func (c *Config) FFmpegPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.System.FFmpegPath
}

// LogPath returns the configured log file path for notifications.
func (c *Config) LogPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Notifications.Log.Path
}

// GraphConfig returns a copy of the current Graph/Email configuration.
func (c *Config) GraphConfig() types.GraphConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.graphConfigLocked()
}

func (c *Config) graphConfigLocked() types.GraphConfig {
	return types.GraphConfig{
		TenantID:     c.Notifications.Email.TenantID,
		ClientID:     c.Notifications.Email.ClientID,
		ClientSecret: c.Notifications.Email.ClientSecret,
		FromAddress:  c.Notifications.Email.FromAddress,
		Recipients:   c.Notifications.Email.Recipients,
	}
}

// MeterConfig returns the meter settings in pipeline form.
func (c *Config) MeterConfig() audio.MeterConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.meterConfigLocked()
}

func (c *Config) meterConfigLocked() audio.MeterConfig {
	m := c.Meter
	return audio.MeterConfig{
		Limit:         m.Limit,
		Gain:          m.Gain,
		NoiseFloor:    m.NoiseFloor,
		Alpha:         m.Alpha,
		MaxStep:       m.MaxStep,
		Hysteresis:    m.Hysteresis,
		Sustain:       time.Duration(m.SustainMs) * time.Millisecond,
		AlertDuration: time.Duration(m.AlertDurationMs) * time.Millisecond,
		Cooldown:      time.Duration(m.CooldownMs) * time.Millisecond,
	}
}

// --- Setters for individual settings ---

// SetAudioInput updates the audio input device and saves the configuration.
func (c *Config) SetAudioInput(input string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Audio.Input = input
	return c.saveLocked()
}

// SetAudioBackend updates the capture backend and saves the configuration.
func (c *Config) SetAudioBackend(backend string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.Audio.Backend
	c.Audio.Backend = backend
	if err := validate.Struct(&c.Audio); err != nil {
		c.Audio.Backend = prev
		return validationError(err)
	}
	return c.saveLocked()
}

// SetMeterLimit updates the limit. The change is visible immediately; the
// write is debounced so dragging the slider does not rewrite the file per step.
func (c *Config) SetMeterLimit(limit float64) error {
	if err := audio.ValidateLimit(limit); err != nil {
		return err
	}

	c.mu.Lock()
	if limit <= c.Meter.Hysteresis {
		c.mu.Unlock()
		return fmt.Errorf("%w: limit %.1f must exceed hysteresis %.1f", ErrConfigOutOfRange, limit, c.Meter.Hysteresis)
	}
	c.Meter.Limit = limit
	c.mu.Unlock()

	c.saveLater()
	return nil
}

// SetMeter replaces the meter settings after validation and saves the configuration.
func (c *Config) SetMeter(m MeterConfig) error {
	if err := validate.Struct(&m); err != nil {
		return validationError(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.Meter
	c.Meter = m
	if err := c.meterConfigLocked().Validate(); err != nil {
		c.Meter = prev
		return err
	}
	return c.saveLocked()
}

// SetWebhookURL updates the webhook URL and saves the configuration.
func (c *Config) SetWebhookURL(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Webhook.URL = url
	return c.saveLocked()
}

// SetLogPath updates the log file path and saves the configuration.
// A non-empty path must be clean and its directory writable.
func (c *Config) SetLogPath(path string) error {
	if path != "" {
		if err := util.ValidatePath("notifications.log.path", path); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		if err := util.CheckPathWritable(filepath.Dir(path)); err != nil {
			return fmt.Errorf("%w: notifications.log.path: %w", ErrInvalidConfig, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Log.Path = path
	return c.saveLocked()
}

// SetGraphConfig updates all Microsoft Graph/Email configuration fields and saves.
func (c *Config) SetGraphConfig(cfg types.GraphConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Email = EmailConfig{
		TenantID:     cfg.TenantID,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		FromAddress:  cfg.FromAddress,
		Recipients:   cfg.Recipients,
	}
	return c.saveLocked()
}

// SetZabbixConfig updates the Zabbix trapper settings and saves.
func (c *Config) SetZabbixConfig(cfg types.ZabbixConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Zabbix = cfg
	return c.saveLocked()
}

// SetArchive updates the archive settings and saves.
func (c *Config) SetArchive(cfg ArchiveConfig) error {
	if err := validate.Struct(&cfg); err != nil {
		return validationError(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Archive = cfg
	return c.saveLocked()
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// System
	WebPort     int    `json:"web_port"`
	WebUser     string `json:"web_user"`
	WebPassword string `json:"web_password,omitempty"`
	FFmpegPath  string `json:"ffmpeg_path"`

	// Web/Branding
	RoomName   string `json:"room_name"`
	ColorLight string `json:"color_light"`
	ColorDark  string `json:"color_dark"`

	// Audio
	AudioBackend string `json:"audio_backend"`
	AudioInput   string `json:"audio_input"`
	FrameSize    int    `json:"frame_size"`

	// Meter
	Meter         audio.MeterConfig `json:"-"`
	MeterSettings MeterConfig       `json:"meter"`

	// Notifications
	WebhookURL string             `json:"webhook_url"`
	LogPath    string             `json:"log_path"`
	Graph      types.GraphConfig  `json:"graph"`
	Zabbix     types.ZabbixConfig `json:"zabbix"`

	// Event log and archive
	EventLogPath string        `json:"event_log_path"`
	Archive      ArchiveConfig `json:"archive"`
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		// System
		WebPort:     c.System.Port,
		WebUser:     c.System.Username,
		WebPassword: c.System.Password,
		FFmpegPath:  c.System.FFmpegPath,

		// Web/Branding
		RoomName:   c.Web.RoomName,
		ColorLight: c.Web.ColorLight,
		ColorDark:  c.Web.ColorDark,

		// Audio
		AudioBackend: c.Audio.Backend,
		AudioInput:   c.Audio.Input,
		FrameSize:    c.Audio.FrameSize,

		// Meter
		Meter:         c.meterConfigLocked(),
		MeterSettings: c.Meter,

		// Notifications
		WebhookURL: c.Notifications.Webhook.URL,
		LogPath:    c.Notifications.Log.Path,
		Graph:      c.graphConfigLocked(),
		Zabbix:     c.Notifications.Zabbix,

		// Event log and archive
		EventLogPath: c.EventLog.Path,
		Archive:      c.Archive,
	}
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasGraph reports whether Microsoft Graph email notifications are configured.
func (s *Snapshot) HasGraph() bool {
	return util.IsConfigured(s.Graph.TenantID, s.Graph.ClientID, s.Graph.ClientSecret,
		s.Graph.FromAddress, s.Graph.Recipients)
}

// HasLogPath reports whether a log path is configured.
func (s *Snapshot) HasLogPath() bool {
	return s.LogPath != ""
}

// HasZabbix reports whether Zabbix notifications are configured.
func (s *Snapshot) HasZabbix() bool {
	return util.IsConfigured(s.Zabbix.Server, s.Zabbix.Host, s.Zabbix.Key)
}

// HasArchive reports whether event log archiving is enabled and configured.
func (s *Snapshot) HasArchive() bool {
	return s.Archive.Enabled && util.IsConfigured(s.Archive.S3.Bucket, s.Archive.S3.AccessKeyID, s.Archive.S3.SecretAccessKey)
}
