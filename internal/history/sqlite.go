// Package history persists an audit trail of broker traffic: agent
// registrations and routed messages. The registries themselves are purely
// in-memory; history is observability, not durability.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/agentmesh/internal/domain"
)

// Agent log actions.
const (
	ActionRegistered   = "registered"
	ActionDeregistered = "deregistered"
)

// AgentEvent is one row of the agent audit log.
type AgentEvent struct {
	AgentID string    `json:"agentId"`
	Name    string    `json:"name"`
	Role    string    `json:"role"`
	Action  string    `json:"action"`
	Ts      time.Time `json:"ts"`
}

// MessageEvent is one row of the message audit log.
type MessageEvent struct {
	From      string    `json:"from"`
	To        string    `json:"to,omitempty"`
	Content   string    `json:"content"`
	Broadcast bool      `json:"broadcast"`
	Ts        time.Time `json:"ts"`
}

// Store is the history persistence interface.
type Store interface {
	RecordAgentEvent(ctx context.Context, agent domain.Agent, action string) error
	RecordMessage(ctx context.Context, msg domain.Message) error
	ListAgentEvents(ctx context.Context, limit int) ([]AgentEvent, error)
	ListMessages(ctx context.Context, limit int) ([]MessageEvent, error)
	Clear(ctx context.Context) error
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) a SQLite history store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS agent_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			name TEXT NOT NULL,
			role TEXT NOT NULL,
			action TEXT NOT NULL,
			ts DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_log_ts ON agent_log(ts)`,
		`CREATE TABLE IF NOT EXISTS message_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			from_id TEXT NOT NULL,
			to_id TEXT,
			content TEXT,
			broadcast INTEGER NOT NULL DEFAULT 0,
			ts DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_message_log_ts ON message_log(ts)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// RecordAgentEvent appends a registration or deregistration to the log.
func (s *SQLiteStore) RecordAgentEvent(ctx context.Context, agent domain.Agent, action string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_log (agent_id, name, role, action, ts) VALUES (?, ?, ?, ?, ?)`,
		agent.ID, agent.Name, agent.Role, action, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record agent event: %w", err)
	}
	return nil
}

// RecordMessage appends a routed message to the log.
func (s *SQLiteStore) RecordMessage(ctx context.Context, msg domain.Message) error {
	broadcast := 0
	if msg.Broadcast() {
		broadcast = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO message_log (from_id, to_id, content, broadcast, ts) VALUES (?, ?, ?, ?, ?)`,
		msg.From, msg.To, string(msg.Content), broadcast, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to record message: %w", err)
	}
	return nil
}

// ListAgentEvents returns the most recent agent log rows, oldest first.
func (s *SQLiteStore) ListAgentEvents(ctx context.Context, limit int) ([]AgentEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, name, role, action, ts FROM agent_log
		 ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent events: %w", err)
	}
	defer rows.Close()

	var events []AgentEvent
	for rows.Next() {
		var e AgentEvent
		if err := rows.Scan(&e.AgentID, &e.Name, &e.Role, &e.Action, &e.Ts); err != nil {
			return nil, fmt.Errorf("failed to scan agent event: %w", err)
		}
		events = append(events, e)
	}
	reverse(events)
	return events, rows.Err()
}

// ListMessages returns the most recent message log rows, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, limit int) ([]MessageEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_id, to_id, content, broadcast, ts FROM message_log
		 ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var events []MessageEvent
	for rows.Next() {
		var e MessageEvent
		var to sql.NullString
		var broadcast int
		if err := rows.Scan(&e.From, &to, &e.Content, &broadcast, &e.Ts); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		e.To = to.String
		e.Broadcast = broadcast == 1
		events = append(events, e)
	}
	reverse(events)
	return events, rows.Err()
}

// Clear wipes both logs.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM agent_log`); err != nil {
		return fmt.Errorf("failed to clear agent log: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM message_log`); err != nil {
		return fmt.Errorf("failed to clear message log: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
