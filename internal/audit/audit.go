// Package audit persists daemon and session lifecycle events to a local
// SQLite database, adapted from the teacher's internal/db package (which
// logged SSH tunnel lifecycle events) into a command-session event log.
package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Log wraps the SQLite connection backing the audit trail.
type Log struct {
	conn *sql.DB
}

// Open opens or creates the audit database at path, enabling WAL mode for
// concurrent writers (the daemon's dispatch loop and every session
// goroutine may log independently).
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("audit: enable WAL mode: %w", err)
	}

	l := &Log{conn: conn}
	if err := l.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("audit: init schema: %w", err)
	}
	return l, nil
}

func (l *Log) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS daemon_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS session_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		client_pid INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_daemon_events_timestamp ON daemon_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_session_events_pid ON session_events(client_pid);
	`
	_, err := l.conn.Exec(schema)
	return err
}

// LogDaemon records a daemon lifecycle event (start, stop, admission
// refusal).
func (l *Log) LogDaemon(eventType, details string) {
	if _, err := l.conn.Exec(
		`INSERT INTO daemon_events (event_type, details, timestamp) VALUES (?, ?, ?)`,
		eventType, details, time.Now(),
	); err != nil {
		// Audit logging is best-effort: a write failure here must never
		// take down a session or the daemon itself.
		fmt.Fprintf(os.Stderr, "audit: failed to log daemon event: %v\n", err)
	}
}

// LogSession records a per-session lifecycle event (started, stopped),
// keyed by the session's UUID so a session's events can be correlated
// even if the same client PID reconnects later in the daemon's
// lifetime.
func (l *Log) LogSession(sessionID string, clientPID int32, eventType, details string) {
	if _, err := l.conn.Exec(
		`INSERT INTO session_events (session_id, client_pid, event_type, details, timestamp) VALUES (?, ?, ?, ?, ?)`,
		sessionID, clientPID, eventType, details, time.Now(),
	); err != nil {
		fmt.Fprintf(os.Stderr, "audit: failed to log session event: %v\n", err)
	}
}

// RecentSessionEvents returns the most recent session events, newest
// first, for postmortem debugging.
func (l *Log) RecentSessionEvents(limit int) ([]SessionEvent, error) {
	rows, err := l.conn.Query(
		`SELECT id, session_id, client_pid, event_type, details, timestamp
		 FROM session_events ORDER BY timestamp DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []SessionEvent
	for rows.Next() {
		var e SessionEvent
		if err := rows.Scan(&e.ID, &e.SessionID, &e.ClientPID, &e.EventType, &e.Details, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// SessionEvent is one row of the session_events table.
type SessionEvent struct {
	ID        int64
	SessionID string
	ClientPID int32
	EventType string
	Details   string
	Timestamp time.Time
}

// Flush forces a WAL checkpoint, used before a clean daemon shutdown so
// the audit trail is durable even if the process is killed shortly
// after.
func (l *Log) Flush() error {
	_, err := l.conn.Exec("PRAGMA wal_checkpoint(RESTART)")
	return err
}

// Close checkpoints and closes the underlying connection.
func (l *Log) Close() error {
	l.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return l.conn.Close()
}
