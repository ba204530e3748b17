package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"convolens/internal/types"
)

// SQLiteStore persists sessions across process restarts, so follow-up
// questions still work after the CLI exits.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the session database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		last_query TEXT NOT NULL,
		interval_start DATETIME,
		interval_end DATETIME,
		fingerprint_count INTEGER NOT NULL,
		fingerprint_hash TEXT NOT NULL,
		has_conversations BOOLEAN NOT NULL,
		last_compressed TEXT,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Get returns the state for sessionID, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (*types.SessionState, error) {
	var (
		state          types.SessionState
		compressedJSON sql.NullString
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, last_query, interval_start, interval_end,
			fingerprint_count, fingerprint_hash, has_conversations,
			last_compressed, updated_at
		FROM sessions WHERE session_id = ?
	`, sessionID).Scan(
		&state.SessionID, &state.LastQuery,
		&state.LastInterval.Start, &state.LastInterval.End,
		&state.Fingerprint.Count, &state.Fingerprint.Hash,
		&state.HasConversations, &compressedJSON, &state.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	if compressedJSON.Valid && compressedJSON.String != "" {
		var cc types.CompressedCorpus
		if err := json.Unmarshal([]byte(compressedJSON.String), &cc); err != nil {
			return nil, fmt.Errorf("decode session corpus: %w", err)
		}
		state.LastCompressed = &cc
	}

	return &state, nil
}

// Update inserts or replaces the session row.
func (s *SQLiteStore) Update(ctx context.Context, state *types.SessionState) error {
	var compressedJSON any
	if state.LastCompressed != nil {
		data, err := json.Marshal(state.LastCompressed)
		if err != nil {
			return fmt.Errorf("encode session corpus: %w", err)
		}
		compressedJSON = string(data)
	}

	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, last_query, interval_start, interval_end,
			fingerprint_count, fingerprint_hash, has_conversations,
			last_compressed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			last_query = excluded.last_query,
			interval_start = excluded.interval_start,
			interval_end = excluded.interval_end,
			fingerprint_count = excluded.fingerprint_count,
			fingerprint_hash = excluded.fingerprint_hash,
			has_conversations = excluded.has_conversations,
			last_compressed = excluded.last_compressed,
			updated_at = excluded.updated_at
	`, state.SessionID, state.LastQuery,
		state.LastInterval.Start, state.LastInterval.End,
		state.Fingerprint.Count, state.Fingerprint.Hash,
		state.HasConversations, compressedJSON, state.UpdatedAt)

	return err
}
