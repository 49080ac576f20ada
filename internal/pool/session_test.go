package pool

import (
	"context"
	"io"
	"testing"
	"time"

	"go.cmdserv.dev/cmdserv/internal/descriptor"
	"go.cmdserv.dev/cmdserv/internal/transport"
)

// runFakeSession drives one full command round trip through runSession
// by impersonating the client side of the FIFO handshake: it creates
// both named pipes, writes a command line, and reads back whatever the
// spawned process wrote to stdout.
func runFakeSession(t *testing.T, workingDir string, pid int32, command string) string {
	t.Helper()

	runDir := t.TempDir()
	inPath := transport.InPath(runDir, pid)
	outPath := transport.OutPath(runDir, pid)

	if err := transport.Create(inPath); err != nil {
		t.Fatalf("Create(in) error: %v", err)
	}

	r := &Runner{ID: 0, active: true, client: descriptor.Client{Pid: pid, WorkingDir: workingDir}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sessionDone := make(chan struct{})
	go func() {
		runSession(ctx, runDir, r)
		close(sessionDone)
	}()

	// Client side of the handshake.
	fdIn, err := transport.OpenWrite(ctx, inPath)
	if err != nil {
		t.Fatalf("OpenWrite(in) error: %v", err)
	}

	if err := transport.Create(outPath); err != nil {
		t.Fatalf("Create(out) error: %v", err)
	}

	if _, err := fdIn.WriteString(command + "\n"); err != nil {
		t.Fatalf("write command error: %v", err)
	}

	fdOut, err := transport.OpenRead(ctx, outPath)
	if err != nil {
		t.Fatalf("OpenRead(out) error: %v", err)
	}
	output, err := io.ReadAll(fdOut)
	if err != nil {
		t.Fatalf("read output error: %v", err)
	}
	fdOut.Close()

	fdIn.Close() // EOF on fd_in, ends the session loop
	select {
	case <-sessionDone:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop after client closed fd_in")
	}

	return string(output)
}

func TestSessionRunsCommandAndStreamsStdout(t *testing.T) {
	dir := t.TempDir()
	out := runFakeSession(t, dir, 900001, "echo hello-world")
	if out != "hello-world\n" {
		t.Errorf("session output = %q, want %q", out, "hello-world\n")
	}
}

func TestSessionUsesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	out := runFakeSession(t, dir, 900002, "pwd")
	want := dir + "\n"
	if out != want {
		t.Errorf("session output = %q, want %q", out, want)
	}
}

func TestStripTrailingNewline(t *testing.T) {
	cases := map[string]string{
		"ls -la\n":   "ls -la",
		"ls -la\r\n": "ls -la",
		"ls -la":     "ls -la",
		"\n":         "",
	}
	for in, want := range cases {
		got := string(stripTrailingNewline([]byte(in)))
		if got != want {
			t.Errorf("stripTrailingNewline(%q) = %q, want %q", in, got, want)
		}
	}
}
