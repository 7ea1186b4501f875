package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tokligence/ragflow-pipeline/internal/session"
)

var _ session.Store = (*Store)(nil)

// Store implements session.Store backed by PostgreSQL, letting several
// pipeline replicas share one conversation mapping.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL-backed session store using the provided DSN.
func New(dsn string, maxOpen, maxIdle int, lifetime time.Duration) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if lifetime > 0 {
		db.SetConnMaxLifetime(lifetime)
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
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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

func (s *Store) Get(ctx context.Context, conversationID string) (string, error) {
	var sessionID string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id FROM pipeline_sessions WHERE conversation_id = $1`, conversationID).Scan(&sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", session.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

func (s *Store) Put(ctx context.Context, conversationID, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pipeline_sessions(conversation_id, session_id)
VALUES($1, $2)
ON CONFLICT(conversation_id) DO UPDATE SET session_id = EXCLUDED.session_id`,
		conversationID, sessionID)
	return err
}
