// Package store persists projects, sessions, and transcript messages in
// a local sqlite database. It owns the session state machine: every
// status change goes through UpdateSessionStatus or SetPendingApproval,
// which validate transitions and keep the pending-approval invariant
// (pending approval present exactly while status is waiting_approval).
package store

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Store wraps the sqlite connection. The mutex serializes session
// status mutations so read-validate-write cycles cannot interleave.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates or opens a sqlite database at the given path and
// ensures the schema exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// init creates the database schema.
func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		path TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		default_allowed_tools TEXT NOT NULL DEFAULT '[]',
		permission_mode TEXT NOT NULL DEFAULT 'default',
		auto_approve_patterns TEXT NOT NULL DEFAULT '[]',
		dev_command TEXT NOT NULL DEFAULT '',
		dev_port INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'idle',
		agent_session_id TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		permission_mode TEXT NOT NULL DEFAULT 'default',
		allowed_tools TEXT NOT NULL DEFAULT '[]',
		system_prompt TEXT NOT NULL DEFAULT '',
		last_prompt TEXT NOT NULL DEFAULT '',
		pending_approval TEXT,
		error_message TEXT NOT NULL DEFAULT '',
		message_count INTEGER NOT NULL DEFAULT 0,
		total_cost_usd REAL NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (project_id) REFERENCES projects(id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		message_type TEXT NOT NULL DEFAULT '',
		extra TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	CREATE INDEX IF NOT EXISTS idx_sessions_agent_id ON sessions(agent_session_id);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// marshalJSON encodes a value for a JSON column, mapping nil slices and
// maps to their empty literals.
func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	out := string(data)
	if out == "null" {
		out = "[]"
	}
	return out, nil
}

func unmarshalStrings(data string) []string {
	var out []string
	if data == "" {
		return nil
	}
	_ = json.Unmarshal([]byte(data), &out)
	return out
}
