// Package descriptor defines the wire-level identity a client hands the
// daemon when it asks to be admitted onto the shared queue.
package descriptor

import (
	"encoding/gob"
	"fmt"
	"io"
)

// maxWorkingDir mirrors the original implementation's WD_LEN bound: a
// working directory longer than this is rejected rather than silently
// truncated.
const maxWorkingDir = 512

// Client identifies one waiting client: its PID (used to derive the FIFO
// pair and to signal it later) and the directory its session should run
// commands from.
type Client struct {
	Pid        int32
	WorkingDir string
}

// Validate rejects descriptors that violate the bounds the session
// transport assumes.
func (c Client) Validate() error {
	if c.Pid <= 0 {
		return fmt.Errorf("descriptor: invalid pid %d", c.Pid)
	}
	if len(c.WorkingDir) == 0 {
		return fmt.Errorf("descriptor: empty working directory")
	}
	if len(c.WorkingDir) > maxWorkingDir {
		return fmt.Errorf("descriptor: working directory exceeds %d bytes", maxWorkingDir)
	}
	return nil
}

// Encode writes the descriptor to w using gob, the Go-native analogue of
// the memcpy-into-shared-memory the original used to cross process
// boundaries.
func Encode(w io.Writer, c Client) error {
	return gob.NewEncoder(w).Encode(c)
}

// Decode reads a descriptor previously written by Encode.
func Decode(r io.Reader) (Client, error) {
	var c Client
	if err := gob.NewDecoder(r).Decode(&c); err != nil {
		return Client{}, err
	}
	if err := c.Validate(); err != nil {
		return Client{}, err
	}
	return c, nil
}
