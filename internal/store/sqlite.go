package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pmarquez/vaultmind/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db       *sql.DB
	capacity int
	mu       sync.Mutex // Serializes save+evict so two saves cannot over-evict
}

// NewSQLite creates a new SQLite-backed repository bounded to capacity
// sessions. A capacity of zero or less uses DefaultHistoryCapacity.
func NewSQLite(dbPath string, capacity int) (Repository, error) {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, capacity: capacity}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		local_id TEXT PRIMARY KEY,
		backend_session_id TEXT,
		title TEXT NOT NULL,
		model TEXT NOT NULL,
		mode TEXT NOT NULL,
		messages_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveSession creates or updates a session snapshot and evicts the least
// recently updated sessions beyond the history capacity.
func (s *SQLiteStore) SaveSession(ctx context.Context, session *domain.StoredSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	messagesJSON, err := json.Marshal(session.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	query := `
	INSERT INTO sessions (local_id, backend_session_id, title, model, mode, messages_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(local_id) DO UPDATE SET
		backend_session_id = excluded.backend_session_id,
		title = excluded.title,
		model = excluded.model,
		messages_json = excluded.messages_json,
		updated_at = excluded.updated_at`

	var backendID interface{}
	if session.BackendSessionID != "" {
		backendID = session.BackendSessionID
	}

	_, err = s.db.ExecContext(ctx, query,
		session.LocalID, backendID, session.Title, session.Model,
		string(session.Mode), string(messagesJSON),
		session.CreatedAt.Unix(), session.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	return s.evictLocked(ctx)
}

// evictLocked removes the oldest sessions past the capacity bound.
func (s *SQLiteStore) evictLocked(ctx context.Context) error {
	query := `
	DELETE FROM sessions WHERE local_id IN (
		SELECT local_id FROM sessions
		ORDER BY updated_at DESC, local_id
		LIMIT -1 OFFSET ?
	)`
	result, err := s.db.ExecContext(ctx, query, s.capacity)
	if err != nil {
		return fmt.Errorf("evict old sessions: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		slog.Debug("evicted old sessions from history", "count", rows)
	}
	return nil
}

// GetSession retrieves a session by its local ID.
func (s *SQLiteStore) GetSession(ctx context.Context, localID string) (*domain.StoredSession, error) {
	query := `
		SELECT local_id, backend_session_id, title, model, mode, messages_json, created_at, updated_at
		FROM sessions WHERE local_id = ?`

	row := s.db.QueryRowContext(ctx, query, localID)
	session, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return session, nil
}

// ListSessions retrieves all stored sessions, most recently updated first.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*domain.StoredSession, error) {
	query := `
		SELECT local_id, backend_session_id, title, model, mode, messages_json, created_at, updated_at
		FROM sessions ORDER BY updated_at DESC, local_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var sessions []*domain.StoredSession
	for rows.Next() {
		session, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes a session from history.
func (s *SQLiteStore) DeleteSession(ctx context.Context, localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE local_id = ?`, localID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func scanSession(scan func(dest ...any) error) (*domain.StoredSession, error) {
	var session domain.StoredSession
	var backendID sql.NullString
	var mode, messagesJSON string
	var createdAt, updatedAt int64

	err := scan(
		&session.LocalID, &backendID, &session.Title, &session.Model,
		&mode, &messagesJSON, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	session.BackendSessionID = backendID.String
	session.Mode = domain.Mode(mode)
	session.CreatedAt = time.Unix(createdAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)
	if err := json.Unmarshal([]byte(messagesJSON), &session.Messages); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	return &session, nil
}
