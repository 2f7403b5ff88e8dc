// Package profile persists student registration records keyed by the chat
// user id.
package profile

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates no profile exists for the user.
var ErrNotFound = errors.New("profile: not found")

// Profile is a registered student.
type Profile struct {
	UserID      string
	Name        string
	Surname     string
	DateOfBirth string
	LinkedEmail string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store persists profiles across backends.
type Store interface {
	// Get returns the profile or ErrNotFound.
	Get(ctx context.Context, userID string) (*Profile, error)

	// Upsert creates or replaces the profile.
	Upsert(ctx context.Context, p *Profile) error

	// LinkEmail attaches a verified external account email.
	LinkEmail(ctx context.Context, userID, email string) error

	Close() error
}
