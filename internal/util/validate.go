package util

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// IsConfigured reports whether all provided values are non-empty.
func IsConfigured(values ...string) bool {
	for _, v := range values {
		if v == "" {
			return false
		}
	}
	return true
}

// ValidationMessage returns a human-readable message for a failed validation tag.
func ValidationMessage(tag, param string) string {
	switch tag {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", param)
	case "max":
		return fmt.Sprintf("must be at most %s", param)
	case "gt":
		return fmt.Sprintf("must be greater than %s", param)
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", param)
	case "lt":
		return fmt.Sprintf("must be less than %s", param)
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", param)
	case "ltfield":
		return fmt.Sprintf("must be less than %s", param)
	case "url":
		return "must be a valid URL"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", param)
	case "hostname":
		return "must be a valid hostname"
	default:
		return fmt.Sprintf("failed validation '%s'", tag)
	}
}

// ErrPathNotWritable is returned by CheckPathWritable.
var ErrPathNotWritable = errors.New("path is not writable")

// ValidatePath rejects empty paths and paths with ".." components.
func ValidatePath(field, path string) error {
	if path == "" {
		return fmt.Errorf("%s: is required", field)
	}
	for part := range strings.SplitSeq(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("%s: path cannot contain '..'", field)
		}
	}
	return nil
}

// CheckPathWritable creates dir if needed and proves a file can be written
// and removed there. The cause is logged; callers get ErrPathNotWritable.
func CheckPathWritable(dir string) error {
	fail := func(step string, err error) error {
		slog.Error("path writability check failed", "path", dir, "step", step, "error", err)
		return fmt.Errorf("%w: %s", ErrPathNotWritable, dir)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fail("mkdir", err)
	}

	f, err := os.CreateTemp(dir, ".class-calm-write-test-*")
	if err != nil {
		return fail("create", err)
	}
	name := f.Name()
	_, werr := f.Write(make([]byte, 1024))
	cerr := f.Close()
	rerr := os.Remove(name)

	switch {
	case werr != nil:
		return fail("write", werr)
	case cerr != nil:
		return fail("close", cerr)
	case rerr != nil:
		return fail("remove", rerr)
	}
	return nil
}
