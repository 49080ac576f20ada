// Package pool implements the fixed-size worker pool: a bounded array of
// Runner slots, one goroutine bound to each occupied slot for the
// lifetime of a client session. Grounded in original_source/server.c's
// runner_pool / start_th / runner_routine, with pthread_create(DETACHED)
// replaced by a plain goroutine plus a sync.WaitGroup the daemon waits on
// during teardown (original_source relied on pthread_cancel, which Go
// has no equivalent of — cooperative cancellation via context and fd
// closure replaces it, see session.go).
package pool

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"go.cmdserv.dev/cmdserv/internal/audit"
	"go.cmdserv.dev/cmdserv/internal/descriptor"
	"go.cmdserv.dev/cmdserv/internal/transport"
)

// Runner is one slot in the pool: either idle, or bound to exactly one
// client for the duration of its session.
type Runner struct {
	ID int

	mu        sync.Mutex
	active    bool
	client    descriptor.Client
	sessionID string
	startTime time.Time
	fdIn      *os.File
}

func (r *Runner) snapshot() (active bool, client descriptor.Client, sessionID string, start time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, r.client, r.sessionID, r.startTime
}

// Pool is the fixed-capacity runner array plus the bookkeeping needed to
// admit and tear down sessions.
type Pool struct {
	runDir string
	audit  *audit.Log
	wg     sync.WaitGroup

	mu      sync.Mutex
	runners []*Runner
}

// New builds a pool of capacity runner slots rooted at runDir, the
// directory FIFOs are created under.
func New(capacity int, runDir string, auditLog *audit.Log) *Pool {
	runners := make([]*Runner, capacity)
	for i := range runners {
		runners[i] = &Runner{ID: i}
	}
	return &Pool{runDir: runDir, audit: auditLog, runners: runners}
}

// Cap returns the pool's fixed capacity.
func (p *Pool) Cap() int {
	return len(p.runners)
}

// Admit binds c to the first idle runner and starts its session
// goroutine. It reports false (admission refused) if every runner is
// occupied, mirroring listen()'s "no idle thread found" branch, whose
// caller sends SIG_FAILURE to the client.
func (p *Pool) Admit(ctx context.Context, c descriptor.Client) bool {
	p.mu.Lock()
	var r *Runner
	for _, candidate := range p.runners {
		candidate.mu.Lock()
		if !candidate.active {
			candidate.active = true
			candidate.client = c
			candidate.sessionID = uuid.NewString()
			candidate.startTime = time.Now()
			candidate.mu.Unlock()
			r = candidate
			break
		}
		candidate.mu.Unlock()
	}
	p.mu.Unlock()

	if r == nil {
		return false
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runSession(ctx, r)
	}()
	return true
}

func (p *Pool) runSession(ctx context.Context, r *Runner) {
	_, client, sessionID, start := r.snapshot()
	slog.Info("session started", "runner", r.ID, "session", sessionID, "pid", client.Pid)
	if p.audit != nil {
		p.audit.LogSession(sessionID, client.Pid, "started", client.WorkingDir)
	}

	runSession(ctx, p.runDir, r)

	duration := time.Since(start)
	slog.Info("session stopped", "runner", r.ID, "session", sessionID, "pid", client.Pid, "duration", duration)
	if p.audit != nil {
		p.audit.LogSession(sessionID, client.Pid, "stopped", duration.String())
	}

	r.mu.Lock()
	r.active = false
	r.fdIn = nil
	r.mu.Unlock()
}

// Shutdown forcibly ends every active session: it closes each runner's
// inbound FIFO (unblocking its read loop) and signals SIG_FAILURE to the
// bound client, the same two actions cleanup() takes in
// original_source/server.c, then waits for every session goroutine to
// return.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	for _, r := range p.runners {
		r.mu.Lock()
		if r.active {
			if r.fdIn != nil {
				r.fdIn.Close()
			}
			if err := transport.Signal(r.client.Pid, transport.SigFailure); err != nil {
				slog.Warn("failed to signal runner's client during shutdown", "runner", r.ID, "pid", r.client.Pid, "error", err)
			}
		}
		r.mu.Unlock()
	}
	p.mu.Unlock()

	p.wg.Wait()
}
