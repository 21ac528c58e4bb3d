// Package store persists orchestrator state in SQLite: conversation
// sessions, the operator's enabled-tool set, and a small key-value
// configuration table.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/homelab-assistant/internal/tools"
)

// SchemaVersion is recorded in the configuration table after migration.
const SchemaVersion = "1"

// sqliteTime is the layout SQLite's datetime('now') produces.
const sqliteTime = "2006-01-02 15:04:05"

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Open opens (creating if needed) the SQLite database at path.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// Store wraps the orchestrator database. All methods are safe for
// concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// NewStore migrates the schema and seeds every registered tool as
// enabled. Seeding never re-enables a tool an operator disabled.
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := s.seed(ctx); err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		api_key_hash TEXT NOT NULL UNIQUE,
		is_active    INTEGER NOT NULL DEFAULT 1,
		created_at   TEXT NOT NULL DEFAULT (datetime('now'))
	);
	CREATE TABLE IF NOT EXISTS sessions (
		conversation_id TEXT PRIMARY KEY,
		created_at      TEXT NOT NULL DEFAULT (datetime('now')),
		last_active_at  TEXT NOT NULL DEFAULT (datetime('now')),
		message_count   INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sessions (last_active_at);
	CREATE TABLE IF NOT EXISTS configuration (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT (datetime('now'))
	);
	CREATE TABLE IF NOT EXISTS enabled_tools (
		tool_name  TEXT PRIMARY KEY,
		is_enabled INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL DEFAULT (datetime('now'))
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return s.SetConfig(ctx, "schema_version", SchemaVersion)
}

func (s *Store) seed(ctx context.Context) error {
	for _, name := range tools.Names() {
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO enabled_tools (tool_name, is_enabled) VALUES (?, 1)`,
			name,
		); err != nil {
			return fmt.Errorf("seed %s: %w", name, err)
		}
	}
	return nil
}

// Session is one row of the sessions table.
type Session struct {
	ConversationID string    `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActiveAt   time.Time `json:"last_active_at"`
	MessageCount   int       `json:"message_count"`
}

// RecordSession creates the session with a count of one, or bumps the
// count and activity time of an existing one.
func (s *Store) RecordSession(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (conversation_id, created_at, last_active_at, message_count)
		VALUES (?, datetime('now'), datetime('now'), 1)
		ON CONFLICT(conversation_id) DO UPDATE SET
			last_active_at = datetime('now'),
			message_count  = message_count + 1`,
		conversationID,
	)
	if err != nil {
		return fmt.Errorf("record session %s: %w", conversationID, err)
	}
	return nil
}

// GetSession returns a session, or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, conversationID string) (*Session, error) {
	var (
		sess            Session
		created, active string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, created_at, last_active_at, message_count
		 FROM sessions WHERE conversation_id = ?`,
		conversationID,
	).Scan(&sess.ConversationID, &created, &active, &sess.MessageCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", conversationID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", conversationID, err)
	}
	sess.CreatedAt, _ = time.ParseInLocation(sqliteTime, created, time.UTC)
	sess.LastActiveAt, _ = time.ParseInLocation(sqliteTime, active, time.UTC)
	return &sess, nil
}

// EnabledTools returns the current enabled-tool snapshot.
func (s *Store) EnabledTools(ctx context.Context) (tools.EnabledSet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tool_name FROM enabled_tools WHERE is_enabled = 1`)
	if err != nil {
		return tools.EnabledSet{}, fmt.Errorf("query enabled tools: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return tools.EnabledSet{}, fmt.Errorf("scan enabled tool: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return tools.EnabledSet{}, err
	}
	return tools.NewEnabledSet(names...), nil
}

// ToolState pairs a registered tool with its enabled flag.
type ToolState struct {
	tools.Definition
	Enabled bool `json:"enabled"`
}

// ListTools returns every registered tool in catalogue order with its
// enabled flag. Tools missing from the table are reported disabled.
func (s *Store) ListTools(ctx context.Context) ([]ToolState, error) {
	enabled, err := s.EnabledTools(ctx)
	if err != nil {
		return nil, err
	}
	defs := tools.Catalogue()
	out := make([]ToolState, len(defs))
	for i, d := range defs {
		out[i] = ToolState{Definition: d, Enabled: enabled.Contains(d.Name)}
	}
	return out, nil
}

// SetToolEnabled flips a tool's enabled flag. Names outside the registry
// are rejected with tools.ErrUnknownTool.
func (s *Store) SetToolEnabled(ctx context.Context, name string, enabled bool) error {
	if _, ok := tools.ParseID(name); !ok {
		return &tools.UnknownToolError{Name: name}
	}
	flag := 0
	if enabled {
		flag = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enabled_tools (tool_name, is_enabled, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(tool_name) DO UPDATE SET
			is_enabled = excluded.is_enabled,
			updated_at = excluded.updated_at`,
		name, flag,
	)
	if err != nil {
		return fmt.Errorf("set tool %s: %w", name, err)
	}
	return nil
}

// GetConfig returns a configuration value. Missing keys yield "" and a
// nil error.
func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM configuration WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get config %s: %w", key, err)
	}
	return value, nil
}

// SetConfig upserts a configuration value.
func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO configuration (key, value, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set config %s: %w", key, err)
	}
	return nil
}

// InstanceID returns this installation's stable identifier, generating
// and persisting a UUIDv7 on first use. It identifies the orchestrator
// to MQTT and Home Assistant and survives device renames.
func (s *Store) InstanceID(ctx context.Context) (string, error) {
	id, err := s.GetConfig(ctx, "instance_id")
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}

	u, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate instance ID: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO configuration (key, value) VALUES ('instance_id', ?)`,
		u.String(),
	); err != nil {
		return "", fmt.Errorf("persist instance ID: %w", err)
	}
	// Re-read so concurrent first calls agree on one value.
	return s.GetConfig(ctx, "instance_id")
}
