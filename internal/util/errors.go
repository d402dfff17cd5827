package util

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"
)

// maxErrorLineLength caps the stderr detail attached to capture errors.
const maxErrorLineLength = 200

// WrapError wraps an error with a descriptive operation context.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}

// ExtractLastError returns the last non-blank line of a capture tool's
// stderr, shortened to maxErrorLineLength bytes on a rune boundary.
func ExtractLastError(stderr string) string {
	var last string
	for line := range strings.Lines(stderr) {
		if l := strings.TrimSpace(line); l != "" {
			last = l
		}
	}
	if len(last) <= maxErrorLineLength {
		return last
	}
	cut := maxErrorLineLength
	for cut > 0 && !utf8.RuneStart(last[cut]) {
		cut--
	}
	return last[:cut] + "..."
}

// SafeCloseFunc returns a function that closes c and logs any error.
// Intended for use with defer.
func SafeCloseFunc(c io.Closer, name string) func() {
	return func() {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close", "resource", name, "error", err)
		}
	}
}
