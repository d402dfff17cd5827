// Package eventlog records meter sessions and noise events in a JSON lines file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"sync"
	"time"
)

// EventType represents the type of event.
type EventType string

// Session event types.
const (
	SessionStarted EventType = "session_started"
	SessionStopped EventType = "session_stopped"
	SessionFailed  EventType = "session_failed"
)

// Noise event types.
const (
	ExceedingStarted EventType = "exceeding_started"
	ExceedingCleared EventType = "exceeding_cleared"
	AlertFired       EventType = "alert_fired"
	LimitChanged     EventType = "limit_changed"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	Session   string    `json:"session,omitempty"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// NoiseDetails contains noise-specific event details.
type NoiseDetails struct {
	Level      float64 `json:"level"`
	Limit      float64 `json:"limit"`
	DurationMs int64   `json:"duration_ms,omitempty"`
}

// LimitDetails contains the details of a limit change.
type LimitDetails struct {
	Limit         float64 `json:"limit"`
	PreviousLimit float64 `json:"previous_limit"`
}

// SessionDetails contains session lifecycle details.
type SessionDetails struct {
	Alerts int64  `json:"alerts,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Logger writes events to a JSON lines file. It is safe for concurrent use.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// DefaultLogPath returns the platform-specific log file path.
func DefaultLogPath(port int) string {
	switch runtime.GOOS {
	case "windows":
		// %PROGRAMDATA% is typically C:\ProgramData
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "class-calm", "logs", strconv.Itoa(port), "events.jsonl")
	default: // linux, darwin
		//nolint:gocritic // Intentional absolute path for Unix systems
		return filepath.Join("/var/log/class-calm", strconv.Itoa(port), "events.jsonl")
	}
}

// NewLogger creates a new event logger at the specified path.
func NewLogger(filePath string) (*Logger, error) {
	l := &Logger{filePath: filePath}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if err := l.openLocked(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Logger) openLocked() error {
	file, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	l.file = file
	l.encoder = json.NewEncoder(file)
	return nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return os.ErrClosed
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	return l.encoder.Encode(event)
}

// LogSession logs a session lifecycle event.
func (l *Logger) LogSession(eventType EventType, session string, at time.Time, alerts int64, errMsg string) error {
	return l.Log(&Event{
		Timestamp: at,
		Type:      eventType,
		Session:   session,
		Details:   &SessionDetails{Alerts: alerts, Error: errMsg},
	})
}

// LogNoise logs a noise event.
func (l *Logger) LogNoise(eventType EventType, session string, at time.Time, level, limit float64, durationMs int64) error {
	return l.Log(&Event{
		Timestamp: at,
		Type:      eventType,
		Session:   session,
		Details: &NoiseDetails{
			Level:      level,
			Limit:      limit,
			DurationMs: durationMs,
		},
	})
}

// Rotate moves the current file aside with a timestamp suffix and starts a new
// one. It returns the rotated path, or "" when the current file was empty.
func (l *Logger) Rotate(now time.Time) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return "", os.ErrClosed
	}

	info, err := l.file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() == 0 {
		return "", nil
	}

	if err := l.file.Close(); err != nil {
		return "", fmt.Errorf("close log file: %w", err)
	}
	l.file = nil

	rotated := fmt.Sprintf("%s.%s", l.filePath, now.UTC().Format("20060102T150405Z"))
	renameErr := os.Rename(l.filePath, rotated)
	if err := l.openLocked(); err != nil {
		return "", errors.Join(renameErr, err)
	}
	if renameErr != nil {
		return "", fmt.Errorf("rotate log file: %w", renameErr)
	}
	return rotated, nil
}

// Reopen closes the file and opens the path again, picking up a fresh file
// after an external rotator moved the old one away.
func (l *Logger) Reopen() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return os.ErrClosed
	}
	closeErr := l.file.Close()
	l.file = nil
	if err := l.openLocked(); err != nil {
		return errors.Join(closeErr, err)
	}
	return closeErr
}

// Rotated returns rotated log files next to the current one, oldest first.
func (l *Logger) Rotated() ([]string, error) {
	matches, err := filepath.Glob(l.filePath + ".*")
	if err != nil {
		return nil, err
	}
	slices.Sort(matches)
	return matches, nil
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll     TypeFilter = ""
	FilterSession TypeFilter = "session"
	FilterNoise   TypeFilter = "noise"
	FilterAlert   TypeFilter = "alert"
)

// ParseFilter converts a query value to a TypeFilter.
func ParseFilter(s string) (TypeFilter, error) {
	switch f := TypeFilter(s); f {
	case FilterAll, FilterSession, FilterNoise, FilterAlert:
		return f, nil
	default:
		return FilterAll, fmt.Errorf("unknown event filter %q", s)
	}
}

// Match reports whether t passes the filter.
func (f TypeFilter) Match(t EventType) bool {
	switch f {
	case FilterSession:
		return IsSessionEvent(t)
	case FilterNoise:
		return IsNoiseEvent(t)
	case FilterAlert:
		return t == AlertFired
	default:
		return true
	}
}

// MaxReadLimit is the maximum number of events that can be read at once.
const MaxReadLimit = 500

// ReadLast reads events from the log file with pagination support.
// Returns up to n events starting from offset, filtered by type, newest first.
// The n parameter is capped at MaxReadLimit.
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	n = min(n, MaxReadLimit)
	if n <= 0 {
		return []Event{}, false, nil
	}
	offset = max(offset, 0)

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	var lines [][]byte
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, slices.Clone(scanner.Bytes()))
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	// Walk newest to oldest; one extra match beyond the page means there is more.
	events := make([]Event, 0, n)
	matched := 0
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal(lines[i], &event); err != nil {
			continue // Skip malformed lines
		}
		if !filter.Match(event.Type) {
			continue
		}

		matched++
		if matched <= offset {
			continue
		}
		if len(events) == n {
			return events, true, nil
		}
		events = append(events, event)
	}

	return events, false, nil
}

// IsSessionEvent returns true if the event type is a session lifecycle event.
func IsSessionEvent(t EventType) bool {
	return t == SessionStarted || t == SessionStopped || t == SessionFailed
}

// IsNoiseEvent returns true if the event type is a noise event.
func IsNoiseEvent(t EventType) bool {
	return t == ExceedingStarted || t == ExceedingCleared || t == AlertFired || t == LimitChanged
}
