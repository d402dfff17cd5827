//go:build !windows

package util

import (
	"os"
	"syscall"
)

// ShutdownSignals returns the signals that stop the server.
func ShutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// RotateSignals returns the signals that reopen the event log, following the
// logrotate convention of sending SIGHUP after moving a file.
func RotateSignals() []os.Signal {
	return []os.Signal{syscall.SIGHUP}
}

// GracefulSignal asks a capture process to exit.
func GracefulSignal(p *os.Process) error {
	return p.Signal(syscall.SIGINT)
}
