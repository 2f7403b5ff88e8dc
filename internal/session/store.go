package session

import (
	"context"
	"errors"
)

// Common errors for session store operations.
var (
	ErrNotFound        = errors.New("session not found")
	ErrVersionConflict = errors.New("session version conflict")
)

// Store persists at most one Session per user.
//
// Update is the only safe way to mutate a session that may be touched by two
// handlers at once: implementations serialize per key or retry optimistically
// so neither update is lost.
type Store interface {
	// Get returns the user's session, or nil if none exists.
	Get(ctx context.Context, userID string) (*Session, error)

	// Set atomically replaces the user's session.
	Set(ctx context.Context, s *Session) error

	// Update applies mutate to the current session under concurrency control
	// and returns the stored result. Returns ErrNotFound when the user has no
	// session; mutate errors abort the update and are returned unchanged.
	Update(ctx context.Context, userID string, mutate func(*Session) error) (*Session, error)

	// Clear removes the user's session. Clearing an absent session is a no-op.
	Clear(ctx context.Context, userID string) error

	// Close releases resources.
	Close() error
}
