// Package transport implements the per-session byte-stream handshake: a
// pair of named FIFOs at <run-dir>/<pid>_in and <run-dir>/<pid>_out,
// grounded directly in original_source/client.c and server.c and in the
// FIFO HAL pattern from the retrieved ardnew/softusb device driver
// (context-cancellable open/read loops around syscall.Mkfifo).
package transport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

const defaultBlockSize = 4096

// InPath returns the path of the FIFO a client writes commands to and a
// worker reads from.
func InPath(runDir string, pid int32) string {
	return filepath.Join(runDir, fmt.Sprintf("%d_in", pid))
}

// OutPath returns the path of the FIFO a worker writes command output to
// and a client reads from. Unlike InPath, this one is recreated by the
// client before every command, matching original_source/client.c's
// per-command mkfifo(pipe_out).
func OutPath(runDir string, pid int32) string {
	return filepath.Join(runDir, fmt.Sprintf("%d_out", pid))
}

// Create makes the named pipe at path, owner-only. It is not an error if
// the path already exists from a previous, uncleaned session.
func Create(path string) error {
	if err := syscall.Mkfifo(path, 0o600); err != nil && err != syscall.EEXIST {
		return fmt.Errorf("transport: mkfifo %s: %w", path, err)
	}
	return nil
}

// Remove deletes the named pipe, ignoring a missing file.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("transport: remove %s: %w", path, err)
	}
	return nil
}

// openResult carries the outcome of a blocking os.OpenFile back to a
// context-aware caller.
type openResult struct {
	f   *os.File
	err error
}

// OpenRead opens path for reading, blocking until a writer opens the
// other end — the FIFO handshake the session transport depends on for
// rendezvous. If ctx is cancelled first, OpenRead returns ctx.Err(); the
// underlying open(2) call itself cannot be interrupted from outside the
// process, so the spawned goroutine is abandoned and will complete
// (or leak, if no writer ever appears) independently. This mirrors the
// tradeoff other_examples' FIFO HAL documents for the same syscall.
func OpenRead(ctx context.Context, path string) (*os.File, error) {
	return openBlocking(ctx, path, os.O_RDONLY)
}

// OpenWrite opens path for writing, blocking until a reader opens the
// other end.
func OpenWrite(ctx context.Context, path string) (*os.File, error) {
	return openBlocking(ctx, path, os.O_WRONLY)
}

func openBlocking(ctx context.Context, path string, flag int) (*os.File, error) {
	done := make(chan openResult, 1)
	go func() {
		f, err := os.OpenFile(path, flag, 0)
		done <- openResult{f, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("transport: open %s: %w", path, r.err)
		}
		return r.f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// BlockSize reports f's filesystem block size, the same st_blksize the
// original used to size its per-read buffer. It falls back to a sane
// default when the platform doesn't expose one.
func BlockSize(f *os.File) int {
	info, err := f.Stat()
	if err != nil {
		return defaultBlockSize
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok && st.Blksize > 0 {
		return int(st.Blksize)
	}
	return defaultBlockSize
}
