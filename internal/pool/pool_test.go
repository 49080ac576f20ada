package pool

import (
	"context"
	"testing"
	"time"

	"go.cmdserv.dev/cmdserv/internal/descriptor"
	"go.cmdserv.dev/cmdserv/internal/transport"
)

func TestAdmitRefusesWhenFull(t *testing.T) {
	runDir := t.TempDir()
	p := New(2, runDir, nil)
	ctx := context.Background()

	pids := []int32{910001, 910002, 910003}
	for _, pid := range pids {
		if err := transport.Create(transport.InPath(runDir, pid)); err != nil {
			t.Fatalf("Create(in) error: %v", err)
		}
	}

	if ok := p.Admit(ctx, descriptor.Client{Pid: pids[0], WorkingDir: runDir}); !ok {
		t.Fatal("first Admit() = false, want true")
	}
	if ok := p.Admit(ctx, descriptor.Client{Pid: pids[1], WorkingDir: runDir}); !ok {
		t.Fatal("second Admit() = false, want true")
	}
	if ok := p.Admit(ctx, descriptor.Client{Pid: pids[2], WorkingDir: runDir}); ok {
		t.Fatal("third Admit() on full pool = true, want false")
	}

	// Complete the handshake for the two admitted sessions so Shutdown
	// can cleanly unblock and join them.
	for _, pid := range pids[:2] {
		f, err := transport.OpenWrite(ctx, transport.InPath(runDir, pid))
		if err != nil {
			t.Fatalf("OpenWrite(in) error: %v", err)
		}
		defer f.Close()
	}
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		p.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown() did not return")
	}
}

func TestShutdownEndsActiveSessions(t *testing.T) {
	runDir := t.TempDir()
	p := New(3, runDir, nil)
	ctx := context.Background()

	pid := int32(920001)
	inPath := transport.InPath(runDir, pid)
	if err := transport.Create(inPath); err != nil {
		t.Fatalf("Create(in) error: %v", err)
	}
	if ok := p.Admit(ctx, descriptor.Client{Pid: pid, WorkingDir: runDir}); !ok {
		t.Fatal("Admit() = false, want true")
	}

	// Complete the FIFO handshake so the session reaches its blocking
	// read loop — the state Shutdown is meant to interrupt by closing
	// fd_in out from under it.
	clientIn, err := transport.OpenWrite(ctx, inPath)
	if err != nil {
		t.Fatalf("OpenWrite(in) error: %v", err)
	}
	defer clientIn.Close()
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		p.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown() did not return; active session was not unblocked")
	}
}

func TestCap(t *testing.T) {
	p := New(5, t.TempDir(), nil)
	if p.Cap() != 5 {
		t.Errorf("Cap() = %d, want 5", p.Cap())
	}
}
