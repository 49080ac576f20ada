// Package client implements the driver process: it registers itself
// with the daemon, then repeatedly reads a command line from stdin and
// runs it through the per-session FIFO handshake, streaming output back
// to its own stdout. Grounded in original_source/client.c's main loop
// and spec.md §4.E.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"go.cmdserv.dev/cmdserv/internal/core"
	"go.cmdserv.dev/cmdserv/internal/descriptor"
	"go.cmdserv.dev/cmdserv/internal/transport"
)

// errSessionFailed marks a SIG_FAILURE received from the daemon, whether
// while waiting on admission or mid-command.
var errSessionFailed = errors.New("session failed")

// Run drives one client session end to end: registration, the per-
// command handshake loop, and clean teardown on stdin EOF, Ctrl-C, or a
// SIG_FAILURE from the daemon. It returns the process's exit code.
func Run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pid := int32(os.Getpid())
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cmdserv: determining working directory: %v\n", err)
		return 1
	}

	runDir := core.GetRunDir()
	inPath := transport.InPath(runDir, pid)

	failureCh := make(chan struct{}, 1)
	interruptCh := make(chan os.Signal, 1)
	signal.Notify(interruptCh, syscall.SIGINT, syscall.SIGQUIT)
	go watchFailureSignal(failureCh)
	defer signal.Stop(interruptCh)

	if err := transport.Create(inPath); err != nil {
		fmt.Fprintf(os.Stderr, "cmdserv: %v\n", err)
		return 1
	}
	defer transport.Remove(inPath)

	if err := register(ctx, pid, cwd); err != nil {
		fmt.Fprintf(os.Stderr, "cmdserv: %v\n", err)
		return 1
	}

	// Admission may never be granted (no idle runner — spec.md §8 scenario
	// 4): the daemon signals SIG_FAILURE instead of ever opening the read
	// end, so this open must race against failureCh/interruptCh exactly
	// like runCommand's open does, not block on it unconditionally.
	fdIn, err := openSessionPipe(ctx, inPath, failureCh, interruptCh)
	if err != nil {
		if errors.Is(err, errSessionFailed) {
			fmt.Fprintln(os.Stderr, "Request Canceled.")
			return 1
		}
		fmt.Fprintf(os.Stderr, "cmdserv: opening session pipe: %v\n", err)
		return 1
	}
	defer fdIn.Close()
	// The inode persists while fdIn holds it open; unlinking the name
	// now prevents a stale path surviving a crash, per spec.md §4.4.3.
	transport.Remove(inPath)

	isTerminal := term.IsTerminal(int(os.Stdout.Fd()))
	printPrompt(isTerminal, cwd)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-failureCh:
			fmt.Fprintln(os.Stderr, "Request Canceled.")
			return 1
		case sig := <-interruptCh:
			fmt.Printf("Disconnecting (%s).\n", sig)
			return 0
		default:
		}

		line := scanner.Text()
		if err := runCommand(ctx, runDir, pid, fdIn, line, failureCh, interruptCh); err != nil {
			fmt.Fprintln(os.Stderr, "Request Canceled.")
			return 1
		}
		printPrompt(isTerminal, cwd)
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "cmdserv: reading stdin: %v\n", err)
		return 1
	}
	return 0
}

// register dials the admission socket and hands the daemon this
// client's descriptor, the cross-process leg of SharedQueue.Push.
func register(ctx context.Context, pid int32, cwd string) error {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "unix", core.GetSocketPath())
	if err != nil {
		return fmt.Errorf("connecting to daemon: %w", err)
	}
	defer conn.Close()

	c := descriptor.Client{Pid: pid, WorkingDir: cwd}
	if err := descriptor.Encode(conn, c); err != nil {
		return fmt.Errorf("sending descriptor: %w", err)
	}
	return nil
}

// runCommand performs one full per-command handshake (§4.B): create the
// outbound FIFO, write the command line, then stream the worker's
// output back to stdout until end-of-stream.
func runCommand(ctx context.Context, runDir string, pid int32, fdIn *os.File, line string, failureCh chan struct{}, interruptCh chan os.Signal) error {
	outPath := transport.OutPath(runDir, pid)
	if err := transport.Create(outPath); err != nil {
		return err
	}
	defer transport.Remove(outPath)

	if _, err := fmt.Fprintln(fdIn, line); err != nil {
		return fmt.Errorf("writing command: %w", err)
	}

	type openResult struct {
		f   *os.File
		err error
	}
	opened := make(chan openResult, 1)
	go func() {
		f, err := transport.OpenRead(ctx, outPath)
		opened <- openResult{f, err}
	}()

	select {
	case r := <-opened:
		if r.err != nil {
			return r.err
		}
		defer r.f.Close()
		_, err := io.Copy(os.Stdout, r.f)
		return err
	case <-failureCh:
		return errSessionFailed
	case sig := <-interruptCh:
		fmt.Printf("Disconnecting (%s).\n", sig)
		os.Exit(0)
		return nil
	}
}

// openSessionPipe opens the client's inbound FIFO write-only, racing the
// open against a SIG_FAILURE (the daemon refused admission — no idle
// runner, spec.md §8 scenario 4 — and will never open the read end) or
// an interrupt signal, so a refused client does not block forever on an
// open(2) that will never be matched by a reader.
func openSessionPipe(ctx context.Context, inPath string, failureCh chan struct{}, interruptCh chan os.Signal) (*os.File, error) {
	type openResult struct {
		f   *os.File
		err error
	}
	opened := make(chan openResult, 1)
	go func() {
		f, err := transport.OpenWrite(ctx, inPath)
		opened <- openResult{f, err}
	}()

	select {
	case r := <-opened:
		return r.f, r.err
	case <-failureCh:
		return nil, errSessionFailed
	case sig := <-interruptCh:
		fmt.Printf("Disconnecting (%s).\n", sig)
		os.Exit(0)
		return nil, nil
	}
}

// watchFailureSignal translates SIG_FAILURE into a channel send so the
// main loop can react to it between blocking operations.
func watchFailureSignal(out chan<- struct{}) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, transport.SigFailure)
	for range ch {
		select {
		case out <- struct{}{}:
		default:
		}
	}
}

// printPrompt prints the session's working directory as a prompt, but
// only when stdout is a terminal: piping cmdserv's output into another
// program should never see prompt text mixed into the command stream.
func printPrompt(isTerminal bool, cwd string) {
	if !isTerminal {
		return
	}
	fmt.Printf("%s $ ", cwd)
}
