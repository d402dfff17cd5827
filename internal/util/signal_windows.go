//go:build windows

package util

import "os"

// ShutdownSignals returns the signals that stop the server.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// RotateSignals returns nil; Windows has no rotation signal.
func RotateSignals() []os.Signal {
	return nil
}

// GracefulSignal terminates the process. Console children on Windows cannot
// receive SIGINT, so capture processes are killed outright.
func GracefulSignal(p *os.Process) error {
	return p.Kill()
}
