package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/doananhminh-dev/Class-calm/internal/alert"
	"github.com/doananhminh-dev/Class-calm/internal/util"
)

// LogEntry is one line of the alert log file.
type LogEntry struct {
	Timestamp string  `json:"timestamp"`
	Event     string  `json:"event"`
	Room      string  `json:"room,omitempty"`
	Session   string  `json:"session,omitempty"`
	Level     float64 `json:"level,omitempty"`
	Limit     float64 `json:"limit,omitempty"`
}

// logMu serializes appends so concurrent alerts never interleave lines.
var logMu sync.Mutex

// LogAlert appends a noise alert to the log file.
func LogAlert(logPath, room string, a alert.Alert) error {
	return appendLogEntry(logPath, &LogEntry{
		Timestamp: timestampUTC(a.At),
		Event:     EventNoiseAlert,
		Room:      room,
		Session:   a.Session,
		Level:     a.Level,
		Limit:     a.Limit,
	})
}

// WriteTestLog writes a test log entry.
func WriteTestLog(logPath, room string) error {
	if logPath == "" {
		return fmt.Errorf("log file path not configured")
	}

	return appendLogEntry(logPath, &LogEntry{
		Timestamp: timestampUTC(time.Now()),
		Event:     EventTest,
		Room:      room,
	})
}

// appendLogEntry appends a log entry to the file.
func appendLogEntry(logPath string, entry *LogEntry) error {
	if !util.IsConfigured(logPath) {
		return nil
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return util.WrapError("marshal log entry", err)
	}
	jsonData = append(jsonData, '\n')

	logMu.Lock()
	defer logMu.Unlock()

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return util.WrapError("open log file", err)
	}
	defer util.SafeCloseFunc(f, "log file")()

	if _, err := f.Write(jsonData); err != nil {
		return util.WrapError("write log entry", err)
	}

	return nil
}
