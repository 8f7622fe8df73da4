package orchestrator

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Audit event types. The orchestrator's log is deliberately independent
// of the guardian's event trace and of any executor-side trail, so
// compromising one log cannot erase evidence in another.
const (
	EventPlanReceived       = "plan_received"
	EventExecutionStarted   = "execution_started"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"
	EventExecutionBlocked   = "execution_blocked"
)

// AuditEvent is one entry in the orchestrator's own log.
type AuditEvent struct {
	Timestamp string `json:"ts"`
	UserID    string `json:"user_id"`
	EventType string `json:"event_type"`
	PlanID    string `json:"plan_id"`
	Details   string `json:"details"`
}

// AuditStore is the append-only audit sink.
type AuditStore interface {
	Record(event AuditEvent) error
	Events() ([]AuditEvent, error)
	Close() error
}

// MemoryAuditStore keeps events in memory for the process lifetime.
type MemoryAuditStore struct {
	mu     sync.Mutex
	events []AuditEvent
}

// NewMemoryAuditStore creates an empty in-memory store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

// Record appends one event.
func (s *MemoryAuditStore) Record(event AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of the log in append order.
func (s *MemoryAuditStore) Events() ([]AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEvent(nil), s.events...), nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryAuditStore) Close() error { return nil }

// SQLiteAuditStore persists events to a local SQLite database.
type SQLiteAuditStore struct {
	db *sql.DB
}

// OpenSQLiteAuditStore opens (or creates) the audit database.
func OpenSQLiteAuditStore(path string) (*SQLiteAuditStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ts         TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	event_type TEXT NOT NULL,
	plan_id    TEXT NOT NULL,
	details    TEXT NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}

	return &SQLiteAuditStore{db: db}, nil
}

// Record appends one event. Append-only by construction: the store
// exposes no update or delete path.
func (s *SQLiteAuditStore) Record(event AuditEvent) error {
	_, err := s.db.Exec(
		`INSERT INTO audit_events (ts, user_id, event_type, plan_id, details) VALUES (?, ?, ?, ?, ?)`,
		event.Timestamp, event.UserID, event.EventType, event.PlanID, event.Details,
	)
	if err != nil {
		return fmt.Errorf("audit: record event: %w", err)
	}
	return nil
}

// Events returns the full log in insertion order.
func (s *SQLiteAuditStore) Events() ([]AuditEvent, error) {
	rows, err := s.db.Query(
		`SELECT ts, user_id, event_type, plan_id, details FROM audit_events ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("audit: query events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		if err := rows.Scan(&e.Timestamp, &e.UserID, &e.EventType, &e.PlanID, &e.Details); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteAuditStore) Close() error { return s.db.Close() }

func now() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}
