// Package daemon implements the long-running server process: the
// admission socket's accept loop, the single dispatch goroutine that
// pops descriptors off the shared queue and hands them to the worker
// pool, and the signal-driven teardown sequence. Grounded in the
// teacher's internal/daemon/server.go Run() method (stale-socket
// recovery, signal.Notify-based shutdown, accept-loop-spawns-goroutine
// shape) and in original_source/server.c's listen()/cleanup().
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"

	"go.cmdserv.dev/cmdserv/internal/audit"
	"go.cmdserv.dev/cmdserv/internal/core"
	"go.cmdserv.dev/cmdserv/internal/descriptor"
	"go.cmdserv.dev/cmdserv/internal/pool"
	"go.cmdserv.dev/cmdserv/internal/queue"
	"go.cmdserv.dev/cmdserv/internal/registry"
	"go.cmdserv.dev/cmdserv/internal/transport"
)

// Daemon owns every long-lived resource a running server needs: the
// admission listener, the shared queue, the worker pool, the
// single-instance registry, and the audit trail.
type Daemon struct {
	socketPath   string
	registryPath string
	runDir       string

	listener net.Listener
	q        *queue.SharedQueue
	p        *pool.Pool
	reg      *registry.Registry
	auditLog *audit.Log
	watcher  *fsnotify.Watcher

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// New builds a Daemon from the process-wide configuration, mirroring the
// teacher's daemon.New() constructor reading from core.Config.
func New() *Daemon {
	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		socketPath:   core.GetSocketPath(),
		registryPath: core.GetRegistrySegmentPath(),
		runDir:       core.GetRunDir(),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Run performs the full startup sequence, then blocks serving admission
// requests until a shutdown signal arrives. It reports readiness or
// failure to the launching process via SIG_SUCCESS/SIG_FAILURE when
// CMDSERV_LAUNCHER_PID is set, completing the rendezvous StartDaemon
// begins.
func (d *Daemon) Run() error {
	if err := d.setup(); err != nil {
		d.reportStartup(transport.SigFailure)
		return err
	}
	defer d.teardown()

	d.installSignalHandlers()
	d.reportStartup(transport.SigSuccess)

	go d.dispatchLoop()
	return d.acceptLoop()
}

func (d *Daemon) setup() error {
	auditLog, err := audit.Open(core.GetAuditPath())
	if err != nil {
		return fmt.Errorf("daemon: opening audit log: %w", err)
	}
	d.auditLog = auditLog

	reg, err := registry.Register(d.registryPath, int32(os.Getpid()))
	if err != nil {
		if errors.Is(err, registry.ErrAlreadyRunning) {
			return fmt.Errorf("daemon: already running")
		}
		return fmt.Errorf("daemon: registering instance: %w", err)
	}
	d.reg = reg

	capacity := core.GetPoolCapacity()
	d.q = queue.New(capacity)
	d.p = pool.New(capacity, d.runDir, d.auditLog)

	listener, err := d.listenAdmissionSocket()
	if err != nil {
		return err
	}
	d.listener = listener

	if watcher, err := fsnotify.NewWatcher(); err == nil {
		d.watcher = watcher
		go d.watchConfig()
	} else {
		slog.Warn("daemon: config hot-reload disabled", "error", err)
	}

	d.auditLog.LogDaemon("start", fmt.Sprintf("pid=%d capacity=%d", os.Getpid(), capacity))
	slog.Info("daemon ready", "socket", d.socketPath, "capacity", capacity)
	return nil
}

// listenAdmissionSocket binds the Unix domain socket clients dial to
// submit a ClientDescriptor, recovering from a stale socket file left by
// a daemon that crashed without cleaning up — the same recovery the
// teacher's server.go performs before giving up.
func (d *Daemon) listenAdmissionSocket() (net.Listener, error) {
	listener, err := net.Listen("unix", d.socketPath)
	if err == nil {
		return listener, nil
	}

	if conn, dialErr := net.Dial("unix", d.socketPath); dialErr == nil {
		conn.Close()
		return nil, fmt.Errorf("daemon: socket %s already has a live listener", d.socketPath)
	}

	if rmErr := os.Remove(d.socketPath); rmErr != nil && !os.IsNotExist(rmErr) {
		return nil, fmt.Errorf("daemon: removing stale socket: %w", rmErr)
	}
	return net.Listen("unix", d.socketPath)
}

func (d *Daemon) acceptLoop() error {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if d.ctx.Err() != nil {
				return nil
			}
			slog.Error("daemon: accept error", "error", err)
			continue
		}
		go d.handleAdmission(conn)
	}
}

// handleAdmission decodes the descriptor a client wrote and pushes it
// onto the shared queue. This is the cross-process leg of
// SharedQueue.Push described in SPEC_FULL.md §4.A: many of these
// goroutines race to push concurrently, matching the original's
// multi-producer access pattern.
func (d *Daemon) handleAdmission(conn net.Conn) {
	defer conn.Close()

	c, err := descriptor.Decode(conn)
	if err != nil {
		slog.Warn("daemon: rejecting malformed descriptor", "error", err)
		return
	}

	if err := d.q.Push(d.ctx, c); err != nil {
		slog.Warn("daemon: failed to admit client onto queue", "pid", c.Pid, "error", err)
	}
}

// dispatchLoop is the queue's single consumer: it pops descriptors and
// binds each to an idle runner, sending SIG_FAILURE to the client when
// the pool has no idle slot, exactly as listen() does in
// original_source/server.c.
func (d *Daemon) dispatchLoop() {
	for {
		c, err := d.q.Pop(d.ctx)
		if err != nil {
			return
		}
		slog.Info("daemon: admitted client", "pid", c.Pid)
		if !d.p.Admit(d.ctx, c) {
			slog.Warn("daemon: no idle runner, refusing client", "pid", c.Pid)
			d.auditLog.LogDaemon("admission_refused", fmt.Sprintf("pid=%d", c.Pid))
			if err := transport.Signal(c.Pid, transport.SigFailure); err != nil {
				slog.Warn("daemon: failed to signal refused client", "pid", c.Pid, "error", err)
			}
		}
	}
}

func (d *Daemon) watchConfig() {
	configFile := core.Config.ConfigFileUsed()
	if configFile == "" {
		return
	}
	if err := d.watcher.Add(configFile); err != nil {
		slog.Warn("daemon: failed to watch config file", "error", err)
		return
	}
	for {
		select {
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				slog.Info("daemon: config file changed, re-reading configuration")
				if err := core.Config.ReadInConfig(); err != nil {
					slog.Warn("daemon: failed to re-read config", "error", err)
				}
			}
		case <-d.ctx.Done():
			return
		}
	}
}

// installSignalHandlers starts the goroutine that turns SIGTERM into a
// cancelled context, per Design Notes §9's guidance to translate signals
// into internal events rather than acting on them directly from a
// signal-safe context.
func (d *Daemon) installSignalHandlers() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("daemon: received SIGTERM, shutting down")
		d.Shutdown()
	}()
}

// Shutdown triggers teardown and unblocks the accept loop. Safe to call
// more than once.
func (d *Daemon) Shutdown() {
	d.cancel()
	if d.listener != nil {
		d.listener.Close()
	}
}

// teardown releases every resource setup acquired, in the order
// cleanup() uses in original_source/server.c: sessions first (so no
// client is left hanging), then the queue, then the single-instance
// guard, then the audit trail.
func (d *Daemon) teardown() {
	d.shutdownOnce.Do(func() {
		if d.watcher != nil {
			d.watcher.Close()
		}
		if d.p != nil {
			d.p.Shutdown()
		}
		if d.q != nil {
			d.q.Close()
		}
		if d.reg != nil {
			if err := d.reg.Destroy(); err != nil {
				slog.Error("daemon: failed to destroy registry", "error", err)
			}
		}
		if d.auditLog != nil {
			d.auditLog.LogDaemon("stop", "")
			d.auditLog.Flush()
			d.auditLog.Close()
		}
		os.Remove(d.socketPath)
		slog.Info("daemon stopped")
	})
}

// reportStartup signals the launching process (identified by the
// CMDSERV_LAUNCHER_PID environment variable StartDaemon sets) that the
// daemon is ready or has failed to start, completing the rendezvous
// lifecycle.go's StartDaemon blocks on.
func (d *Daemon) reportStartup(sig syscall.Signal) {
	launcherPID := os.Getenv("CMDSERV_LAUNCHER_PID")
	if launcherPID == "" {
		return
	}
	var pid int32
	if _, err := fmt.Sscanf(launcherPID, "%d", &pid); err != nil {
		return
	}
	if err := transport.Signal(pid, sig); err != nil {
		slog.Warn("daemon: failed to signal launcher", "launcher_pid", pid, "error", err)
	}
}
