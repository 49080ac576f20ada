// Package queue implements the bounded producer/consumer admission queue
// the daemon's accept loop feeds and its single dispatch goroutine drains.
//
// The original implementation backed this with a shm_open/mmap ring buffer
// guarded by three named POSIX semaphores (empty/full/mutex), shared across
// unrelated OS processes. Go processes don't share an address space, so the
// cross-process leg is a Unix domain socket (see internal/daemon) and only
// the in-process leg — many producer goroutines, one consumer goroutine —
// is a literal bounded queue. That access pattern is exactly what
// code.hybscloud.com/lfq's MPSC queue is built for; Push/Pop synthesize the
// spec's required blocking semantics on top of lfq's non-blocking
// Enqueue/Dequeue using the backoff-retry loop lfq's own documentation
// recommends.
package queue

import (
	"context"
	"errors"
	"sync"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"

	"go.cmdserv.dev/cmdserv/internal/descriptor"
)

// ErrClosed is returned by Push and Pop once Close has been called.
var ErrClosed = errors.New("queue: closed")

// SharedQueue is a bounded, multi-producer single-consumer queue of
// ClientDescriptors. It is safe for concurrent Push calls from any number
// of goroutines; Pop must only ever be called from one goroutine at a time,
// matching the daemon's single dispatch loop.
type SharedQueue struct {
	q        *lfq.MPSC[descriptor.Client]
	closed   chan struct{}
	closeMu  sync.Mutex
	didClose bool
}

// New creates a queue of the given capacity (rounded up to the next power
// of two by lfq, same as the original's fixed CAPACITY).
func New(capacity int) *SharedQueue {
	return &SharedQueue{
		q:      lfq.NewMPSC[descriptor.Client](capacity),
		closed: make(chan struct{}),
	}
}

// Cap returns the queue's usable capacity.
func (s *SharedQueue) Cap() int {
	return s.q.Cap()
}

// Push blocks until c is admitted, the queue is closed, or ctx is
// cancelled. Unlike the original's uninterruptible sem_wait, cancellation
// here is cooperative: a producer stuck behind a full queue during
// shutdown can be released instead of leaking a goroutine.
func (s *SharedQueue) Push(ctx context.Context, c descriptor.Client) error {
	backoff := iox.Backoff{}
	for {
		select {
		case <-s.closed:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := s.q.Enqueue(&c)
		if err == nil {
			return nil
		}
		if !lfq.IsWouldBlock(err) {
			return err
		}
		backoff.Wait()
	}
}

// Pop blocks until a descriptor is available or the queue is closed and
// drained, mirroring linker_pop's "== 0 while connected" loop condition:
// callers should range until Pop returns ErrClosed.
func (s *SharedQueue) Pop(ctx context.Context) (descriptor.Client, error) {
	backoff := iox.Backoff{}
	for {
		c, err := s.q.Dequeue()
		if err == nil {
			return c, nil
		}
		if !lfq.IsWouldBlock(err) {
			return descriptor.Client{}, err
		}

		select {
		case <-s.closed:
			// One last drain attempt: a producer may have enqueued
			// concurrently with Close.
			if c, err := s.q.Dequeue(); err == nil {
				return c, nil
			}
			return descriptor.Client{}, ErrClosed
		case <-ctx.Done():
			return descriptor.Client{}, ctx.Err()
		default:
		}
		backoff.Wait()
	}
}

// Close stops accepting new pushes and signals the consumer that no more
// descriptors will arrive, the equivalent of the original's
// linker_dispose — but it never frees memory out from under a blocked
// peer, since Push/Pop only ever observe closed via the channel.
func (s *SharedQueue) Close() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.didClose {
		return
	}
	s.didClose = true
	s.q.Drain()
	close(s.closed)
}
