// Package registry implements the daemon's single-instance guard: a
// small named shared-memory segment holding one PID; the segment existing
// and that PID being alive is the "is a daemon already running"
// predicate (a segment whose PID is dead is reclaimed) — a direct
// analogue of the original's /cmds_daemon_pid shm_open segment, realized
// with golang.org/x/sys/unix's Mmap instead of libc's shm_open/mmap pair
// (Go processes reach the same /dev/shm tmpfs through a regular file
// descriptor, so the segment is still real shared memory, just opened
// with os.OpenFile instead of shm_open(2)).
package registry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

const segmentSize = 8 // int32 PID + int32 padding, cache-line-friendly

// ErrAlreadyRunning is returned by Register when a live daemon already
// holds the segment.
var ErrAlreadyRunning = errors.New("registry: daemon already running")

// Registry is a live, mmap'd handle on the PID segment.
type Registry struct {
	path string
	file *os.File
	data []byte
}

// Register creates the registry segment and stores pid in it. If a
// segment already exists, its PID is checked for liveness: a live PID
// means another daemon holds the guard (ErrAlreadyRunning); a dead PID
// means the previous daemon crashed without tearing down, so the stale
// segment is removed and registration proceeds, mirroring the stale-
// socket recovery idiom daemons in this ecosystem use for Unix sockets.
func Register(path string, pid int32) (*Registry, error) {
	if existingPID, ok, err := ReadPID(path); err != nil {
		return nil, err
	} else if ok {
		if IsProcessAlive(existingPID) {
			return nil, ErrAlreadyRunning
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("registry: removing stale segment: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("registry: create segment: %w", err)
	}
	if err := f.Truncate(segmentSize); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("registry: truncate segment: %w", err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, segmentSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("registry: mmap segment: %w", err)
	}

	binary.LittleEndian.PutUint32(data, uint32(pid))

	return &Registry{path: path, file: f, data: data}, nil
}

// ReadPID reads the PID stored in the segment at path without taking
// ownership of it. ok is false if no segment exists there.
func ReadPID(path string) (pid int32, ok bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("registry: open segment: %w", err)
	}
	defer f.Close()

	buf := make([]byte, 4)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return 0, false, fmt.Errorf("registry: read segment: %w", err)
	}
	return int32(binary.LittleEndian.Uint32(buf)), true, nil
}

// IsProcessAlive reports whether pid refers to a live process, using the
// null-signal probe (kill(pid, 0)) the original implementation's own
// cleanup path relies on to decide whether a client is still connected.
func IsProcessAlive(pid int32) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(int(pid), syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

// Destroy unmaps and unlinks the segment, the Go-native equivalent of
// munmap + shm_unlink.
func (r *Registry) Destroy() error {
	if r == nil {
		return nil
	}
	if r.data != nil {
		if err := unix.Munmap(r.data); err != nil {
			return fmt.Errorf("registry: munmap: %w", err)
		}
		r.data = nil
	}
	if r.file != nil {
		r.file.Close()
	}
	return os.Remove(r.path)
}
