// Package store provides conversation history persistence.
package store

import (
	"context"

	"github.com/pmarquez/vaultmind/internal/domain"
)

// DefaultHistoryCapacity bounds how many sessions the history keeps. Saving
// beyond the bound evicts the least recently updated sessions.
const DefaultHistoryCapacity = 50

// Repository defines the interface for persisting conversation sessions.
type Repository interface {
	// SaveSession creates or updates a session snapshot, then evicts the
	// oldest sessions past the history capacity.
	SaveSession(ctx context.Context, session *domain.StoredSession) error

	// GetSession retrieves a session by its local ID. It returns (nil, nil)
	// when no such session exists.
	GetSession(ctx context.Context, localID string) (*domain.StoredSession, error)

	// ListSessions retrieves all stored sessions, most recently updated first.
	ListSessions(ctx context.Context) ([]*domain.StoredSession, error)

	// DeleteSession removes a session from history.
	DeleteSession(ctx context.Context, localID string) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
