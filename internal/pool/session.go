package pool

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"

	"go.cmdserv.dev/cmdserv/internal/transport"
)

// runSession is the Go analogue of original_source/server.c's
// runner_routine: open the inbound FIFO, loop reading one command per
// read(2), fork+exec it with stdout wired to the outbound FIFO, and wait
// for it before reading the next command. It returns when the client
// closes its write end (EOF), when its descriptor's fd_in is closed out
// from under it during shutdown, or when an exec failure disconnects the
// client.
func runSession(ctx context.Context, runDir string, r *Runner) {
	_, client, _, _ := r.snapshot()

	inPath := transport.InPath(runDir, client.Pid)
	outPath := transport.OutPath(runDir, client.Pid)
	defer transport.Remove(inPath)

	fdIn, err := transport.OpenRead(ctx, inPath)
	if err != nil {
		slog.Error("session: failed to open inbound fifo", "pid", client.Pid, "error", err)
		return
	}
	r.mu.Lock()
	r.fdIn = fdIn
	r.mu.Unlock()
	defer fdIn.Close()

	blockSize := transport.BlockSize(fdIn)
	buf := make([]byte, blockSize)

	for {
		n, err := fdIn.Read(buf)
		if err != nil || n == 0 {
			// EOF (client closed fd_in) or the fd was closed out from
			// under us during shutdown: either way the session is over.
			return
		}

		line := stripTrailingNewline(buf[:n])
		for i := range buf {
			buf[i] = 0
		}

		tokens := strings.Fields(string(line))
		slog.Debug("session: received command", "runner", r.ID, "pid", client.Pid, "command", string(line))

		if ok := execOne(ctx, client.WorkingDir, outPath, tokens); !ok {
			slog.Warn("session: exec failed, disconnecting client", "runner", r.ID, "pid", client.Pid)
			if err := transport.Signal(client.Pid, transport.SigFailure); err != nil {
				slog.Warn("session: failed to signal client", "pid", client.Pid, "error", err)
			}
			return
		}
	}
}

// stripTrailingNewline removes at most one trailing "\n" or "\r\n",
// replacing the original's unguarded buf_in[strlen(buf_in)-1] check
// (which could read past a non-null-terminated buffer) with a
// length-checked slice operation over exactly the bytes read(2)
// returned.
func stripTrailingNewline(b []byte) []byte {
	if trimmed := bytes.TrimSuffix(b, []byte("\n")); len(trimmed) < len(b) {
		return bytes.TrimSuffix(trimmed, []byte("\r"))
	}
	return b
}

// execOne runs one command with its stdout wired to the client's
// outbound FIFO. It returns false when the command could not be
// started at all (binary missing, not executable, empty command line)
// — the case this implementation classifies as "exec failed" per the
// documented resolution of the original's ambiguous exit-status check.
// A command that starts but exits non-zero still returns true: that is
// a normal, if unsuccessful, result, not a transport failure.
func execOne(ctx context.Context, workingDir, outPath string, tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}

	outFile, err := transport.OpenWrite(ctx, outPath)
	if err != nil {
		slog.Error("session: failed to open outbound fifo", "error", err)
		return false
	}
	defer outFile.Close()

	cmd := exec.CommandContext(ctx, tokens[0], tokens[1:]...)
	cmd.Dir = workingDir
	cmd.Stdout = outFile

	if err := cmd.Start(); err != nil {
		slog.Warn("session: command failed to start", "command", tokens[0], "error", err)
		return false
	}

	// Wait's error reflects the child's exit status, which the spec
	// treats as a normal command result, not a session failure.
	_ = cmd.Wait()
	return true
}
