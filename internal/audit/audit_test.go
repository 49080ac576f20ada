package audit

import (
	"path/filepath"
	"testing"
)

func TestOpenCreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer l.Close()

	l.LogDaemon("start", "pool_capacity=10")
	l.LogSession("11111111-1111-1111-1111-111111111111", 4242, "started", "/home/alice")
	l.LogSession("11111111-1111-1111-1111-111111111111", 4242, "stopped", "12ms")

	events, err := l.RecentSessionEvents(10)
	if err != nil {
		t.Fatalf("RecentSessionEvents() error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("RecentSessionEvents() returned %d events, want 2", len(events))
	}
	if events[0].EventType != "stopped" {
		t.Errorf("most recent event = %q, want %q (newest first)", events[0].EventType, "stopped")
	}
	if events[0].ClientPID != 4242 {
		t.Errorf("ClientPID = %d, want 4242", events[0].ClientPID)
	}
}

func TestFlushAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := l.Flush(); err != nil {
		t.Errorf("Flush() error: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}
