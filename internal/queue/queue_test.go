package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.cmdserv.dev/cmdserv/internal/descriptor"
)

func TestPushPopRoundTrip(t *testing.T) {
	q := New(4)
	ctx := context.Background()

	want := descriptor.Client{Pid: 10, WorkingDir: "/tmp"}
	if err := q.Push(ctx, want); err != nil {
		t.Fatalf("Push() error: %v", err)
	}

	got, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("Pop() error: %v", err)
	}
	if got != want {
		t.Errorf("Pop() = %+v, want %+v", got, want)
	}
}

func TestPushBlocksWhenFull(t *testing.T) {
	q := New(2)
	ctx := context.Background()

	for i := 0; i < q.Cap(); i++ {
		if err := q.Push(ctx, descriptor.Client{Pid: int32(i + 1), WorkingDir: "/tmp"}); err != nil {
			t.Fatalf("Push() error: %v", err)
		}
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := q.Push(ctxTimeout, descriptor.Client{Pid: 99, WorkingDir: "/tmp"}); err == nil {
		t.Error("Push() on full queue with timed-out context = nil, want error")
	}
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New(4)
	ctx := context.Background()

	done := make(chan descriptor.Client, 1)
	go func() {
		c, err := q.Pop(ctx)
		if err != nil {
			t.Errorf("Pop() error: %v", err)
			return
		}
		done <- c
	}()

	time.Sleep(20 * time.Millisecond)
	want := descriptor.Client{Pid: 7, WorkingDir: "/home/x"}
	if err := q.Push(ctx, want); err != nil {
		t.Fatalf("Push() error: %v", err)
	}

	select {
	case got := <-done:
		if got != want {
			t.Errorf("Pop() = %+v, want %+v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop() never returned after Push()")
	}
}

func TestCloseUnblocksPop(t *testing.T) {
	q := New(4)
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() {
		_, err := q.Pop(ctx)
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-errc:
		if err != ErrClosed {
			t.Errorf("Pop() after Close() = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop() never unblocked after Close()")
	}
}

func TestPushAfterCloseFails(t *testing.T) {
	q := New(4)
	q.Close()
	if err := q.Push(context.Background(), descriptor.Client{Pid: 1, WorkingDir: "/tmp"}); err != ErrClosed {
		t.Errorf("Push() after Close() = %v, want ErrClosed", err)
	}
}

func TestConcurrentProducers(t *testing.T) {
	q := New(64)
	ctx := context.Background()
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(pid int32) {
			defer wg.Done()
			if err := q.Push(ctx, descriptor.Client{Pid: pid, WorkingDir: "/tmp"}); err != nil {
				t.Errorf("Push(%d) error: %v", pid, err)
			}
		}(int32(i + 1))
	}
	wg.Wait()

	seen := make(map[int32]bool)
	for i := 0; i < n; i++ {
		c, err := q.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop() error: %v", err)
		}
		if seen[c.Pid] {
			t.Errorf("duplicate pop of pid %d", c.Pid)
		}
		seen[c.Pid] = true
	}
}
