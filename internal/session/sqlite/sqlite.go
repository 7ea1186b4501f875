package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/tokligence/ragflow-pipeline/internal/session"
)

var _ session.Store = (*Store)(nil)

// Store implements session.Store backed by SQLite so the mapping survives
// restarts of the pipeline process.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create session store directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS pipeline_sessions (
	conversation_id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get returns the session cached for conversationID.
func (s *Store) Get(ctx context.Context, conversationID string) (string, error) {
	var sessionID string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id FROM pipeline_sessions WHERE conversation_id = ?`, conversationID).Scan(&sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", session.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

// Put stores the session for conversationID, replacing any previous value.
func (s *Store) Put(ctx context.Context, conversationID, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pipeline_sessions(conversation_id, session_id, created_at)
VALUES(?, ?, ?)
ON CONFLICT(conversation_id) DO UPDATE SET session_id = excluded.session_id`,
		conversationID, sessionID, time.Now().UTC())
	return err
}
