package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("kv: key not found")

// Store is the key-value substrate shared by sessions, idempotency records
// and rate-limit state. Implementations can be in-memory (single instance)
// or Redis (multi-instance). A ttl of zero means no expiry.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes the value unconditionally.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX writes the value only if the key is absent. Returns true for the
	// caller that created the key. Must be atomic under concurrent callers.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// TTL reports the remaining lifetime of the key. Returns ErrNotFound for
	// absent keys and zero for keys without expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Close releases resources.
	Close() error
}
