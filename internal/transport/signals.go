package transport

import (
	"fmt"
	"syscall"
)

// SigFailure and SigSuccess are the two real-time-ish user signals the
// original's tools/config.h names SIG_FAILURE and SIG_SUCCESS. A session
// sends SigFailure to its bound client to report exec failure or forced
// disconnection; a daemon sends SigSuccess to a launcher process during
// the startup rendezvous.
const (
	SigFailure = syscall.SIGUSR1
	SigSuccess = syscall.SIGUSR2
)

// Signal sends sig to pid, the Go equivalent of kill(pid, sig).
func Signal(pid int32, sig syscall.Signal) error {
	if err := syscall.Kill(int(pid), sig); err != nil {
		return fmt.Errorf("transport: signal %d -> pid %d: %w", sig, pid, err)
	}
	return nil
}
