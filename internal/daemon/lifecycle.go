package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"go.cmdserv.dev/cmdserv/internal/core"
	"go.cmdserv.dev/cmdserv/internal/registry"
	"go.cmdserv.dev/cmdserv/internal/transport"
)

const sigTerm = syscall.SIGTERM

func setsidAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

// startupTimeout bounds how long StartDaemon waits for the detached
// child to report readiness before giving up.
const startupTimeout = 10 * time.Second

// StartDaemon launches a detached copy of the current executable running
// its hidden "run" subcommand, waits for the SIG_SUCCESS/SIG_FAILURE
// rendezvous the child's daemon.Run() performs, and returns once the
// daemon is confirmed ready. Setsid detaches the child from the
// launcher's controlling terminal and session, the closest Go analogue
// to the original's double-fork.
func StartDaemon() error {
	if pid, ok, _ := registry.ReadPID(core.GetRegistrySegmentPath()); ok && registry.IsProcessAlive(pid) {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}

	// Register for the rendezvous signals before starting the child so
	// none can arrive and be missed in the gap between Start() and
	// Notify().
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, transport.SigSuccess, transport.SigFailure)
	defer signal.Stop(sigCh)

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving executable path: %w", err)
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	cmd := exec.Command(exePath, "run")
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.Env = append(os.Environ(), fmt.Sprintf("CMDSERV_LAUNCHER_PID=%d", os.Getpid()))
	cmd.SysProcAttr = setsidAttr()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting daemon process: %w", err)
	}
	// The child is session-leader detached; Release lets it outlive
	// this process without becoming a zombie under the launcher.
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("releasing daemon process: %w", err)
	}

	select {
	case sig := <-sigCh:
		switch sig {
		case transport.SigSuccess:
			return nil
		default:
			return fmt.Errorf("daemon reported a startup failure")
		}
	case <-time.After(startupTimeout):
		return fmt.Errorf("timed out waiting for daemon to start")
	}
}

// StopDaemon signals the running daemon's registered PID with SIGTERM
// and waits for its registry segment to disappear, confirming a clean
// shutdown.
func StopDaemon(timeout time.Duration) error {
	path := core.GetRegistrySegmentPath()
	pid, ok, err := registry.ReadPID(path)
	if err != nil {
		return fmt.Errorf("reading registry: %w", err)
	}
	if !ok || !registry.IsProcessAlive(pid) {
		return fmt.Errorf("daemon is not running")
	}

	if err := transport.Signal(pid, sigTerm); err != nil {
		return fmt.Errorf("sending SIGTERM to pid %d: %w", pid, err)
	}

	return WaitForDaemonStop(path, timeout)
}

// WaitForDaemonStop polls for the registry segment's removal, the signal
// that teardown() has run to completion. Unlike the startup rendezvous,
// exit has no analogous signal to block on: the daemon can be killed by
// any signal, not just the one StopDaemon sent, so polling is the only
// sound option here.
func WaitForDaemonStop(registryPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, ok, _ := registry.ReadPID(registryPath); !ok {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for daemon to stop")
}

// Status reports whether a daemon is currently running and, if so, its
// PID, by consulting the registry segment directly rather than the
// admission socket.
func Status() (pid int32, running bool, err error) {
	p, ok, err := registry.ReadPID(core.GetRegistrySegmentPath())
	if err != nil {
		return 0, false, err
	}
	if !ok || !registry.IsProcessAlive(p) {
		return 0, false, nil
	}
	return p, true, nil
}
