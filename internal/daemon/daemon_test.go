package daemon

import (
	"context"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"

	"go.cmdserv.dev/cmdserv/internal/core"
	"go.cmdserv.dev/cmdserv/internal/descriptor"
	"go.cmdserv.dev/cmdserv/internal/transport"
)

// setTestConfig points the process-wide core.Config at an isolated
// temporary directory so concurrent test runs never share a socket,
// registry segment, or audit database.
func setTestConfig(t *testing.T, capacity int) string {
	t.Helper()
	dir := t.TempDir()

	v := viper.New()
	v.Set("config_path", dir)
	v.Set("run_dir", dir)
	v.Set("registry_path", filepath.Join(dir, "registry"))
	v.Set("pool.capacity", capacity)
	core.Config = v

	return dir
}

func waitForFile(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := net.Dial("unix", path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for socket at %s", path)
}

func TestDaemonAdmitsClientAndRunsCommand(t *testing.T) {
	dir := setTestConfig(t, 2)
	d := New()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- d.Run() }()
	t.Cleanup(func() {
		d.Shutdown()
		select {
		case <-runErrCh:
		case <-time.After(2 * time.Second):
			t.Error("daemon did not stop during cleanup")
		}
	})

	socketPath := core.GetSocketPath()
	waitForFile(t, socketPath)

	pid := int32(950001)
	inPath := transport.InPath(dir, pid)
	outPath := transport.OutPath(dir, pid)
	if err := transport.Create(inPath); err != nil {
		t.Fatalf("Create(in) error: %v", err)
	}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("Dial(admission socket) error: %v", err)
	}
	if err := descriptor.Encode(conn, descriptor.Client{Pid: pid, WorkingDir: dir}); err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fdIn, err := transport.OpenWrite(ctx, inPath)
	if err != nil {
		t.Fatalf("OpenWrite(in) error: %v", err)
	}
	defer fdIn.Close()

	if err := transport.Create(outPath); err != nil {
		t.Fatalf("Create(out) error: %v", err)
	}
	if _, err := fdIn.WriteString("echo admitted\n"); err != nil {
		t.Fatalf("write command error: %v", err)
	}

	fdOut, err := transport.OpenRead(ctx, outPath)
	if err != nil {
		t.Fatalf("OpenRead(out) error: %v", err)
	}
	defer fdOut.Close()

	out, err := io.ReadAll(fdOut)
	if err != nil {
		t.Fatalf("read output error: %v", err)
	}
	if string(out) != "admitted\n" {
		t.Errorf("output = %q, want %q", out, "admitted\n")
	}
}

func TestDaemonRefusesWhenPoolFull(t *testing.T) {
	dir := setTestConfig(t, 1)
	d := New()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- d.Run() }()
	t.Cleanup(func() {
		d.Shutdown()
		select {
		case <-runErrCh:
		case <-time.After(2 * time.Second):
			t.Error("daemon did not stop during cleanup")
		}
	})

	socketPath := core.GetSocketPath()
	waitForFile(t, socketPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	admit := func(pid int32) {
		inPath := transport.InPath(dir, pid)
		if err := transport.Create(inPath); err != nil {
			t.Fatalf("Create(in) error: %v", err)
		}
		conn, err := net.Dial("unix", socketPath)
		if err != nil {
			t.Fatalf("Dial() error: %v", err)
		}
		defer conn.Close()
		if err := descriptor.Encode(conn, descriptor.Client{Pid: pid, WorkingDir: dir}); err != nil {
			t.Fatalf("Encode() error: %v", err)
		}
	}

	admit(950101)
	fdIn, err := transport.OpenWrite(ctx, transport.InPath(dir, 950101))
	if err != nil {
		t.Fatalf("OpenWrite(in) error: %v", err)
	}
	defer fdIn.Close()
	time.Sleep(50 * time.Millisecond) // let the first client occupy the only runner

	admit(950102)
	time.Sleep(100 * time.Millisecond) // let dispatchLoop attempt and refuse the second

	// Only a client bound to a runner gets session events in the audit
	// trail: the first must have one, the refused second must have none.
	events, err := d.auditLog.RecentSessionEvents(10)
	if err != nil {
		t.Fatalf("RecentSessionEvents() error: %v", err)
	}
	sawFirst := false
	for _, e := range events {
		switch e.ClientPID {
		case 950101:
			sawFirst = true
		case 950102:
			t.Errorf("refused client got a %q session event, want none with a pool of 1", e.EventType)
		}
	}
	if !sawFirst {
		t.Error("first client has no session event, want it bound to the only runner")
	}
}
