// Package history avoids re-serving recently generated content to the same
// user. Served content is recorded by hash; selection prefers candidates the
// user has not seen inside the lookback window and degrades to the
// least-recently-seen candidate instead of blocking.
package history

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Hash returns the stable content digest used as the dedup key.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:16])
}

// Entry records that content was served to a user.
type Entry struct {
	UserID      string
	ContentHash string
	Topic       string
	CreatedAt   time.Time
}

// Store persists content-history entries.
type Store interface {
	// Record appends an entry; serving the same hash again refreshes it.
	Record(ctx context.Context, userID, contentHash, topic string) error

	// LastSeen returns when the user last saw the hash.
	LastSeen(ctx context.Context, userID, contentHash string) (time.Time, bool, error)

	// Prune removes entries older than the cutoff; a memory bound, not a
	// correctness requirement.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)

	Close() error
}

var errNoCandidates = errors.New("history: no candidates")

// Selector picks unseen content for a user.
type Selector struct {
	store  Store
	window time.Duration
}

// NewSelector creates a Selector with the given lookback window.
func NewSelector(store Store, window time.Duration) *Selector {
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	return &Selector{store: store, window: window}
}

// IsRecent reports whether the user saw the hash within the window.
func (s *Selector) IsRecent(ctx context.Context, userID, contentHash string) (bool, error) {
	seen, ok, err := s.store.LastSeen(ctx, userID, contentHash)
	if err != nil || !ok {
		return false, err
	}
	return time.Since(seen) <= s.window, nil
}

// Record notes that content was served.
func (s *Selector) Record(ctx context.Context, userID, content, topic string) error {
	return s.store.Record(ctx, userID, Hash(content), topic)
}

// SelectUnseen returns the first candidate the user has not seen within the
// window. When every candidate is recent it returns the least-recently-seen
// one rather than leaving the user without content.
func (s *Selector) SelectUnseen(ctx context.Context, userID string, candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", errNoCandidates
	}

	oldest := -1
	var oldestSeen time.Time
	for i, candidate := range candidates {
		seen, ok, err := s.store.LastSeen(ctx, userID, Hash(candidate))
		if err != nil {
			return "", err
		}
		if !ok || time.Since(seen) > s.window {
			return candidate, nil
		}
		if oldest == -1 || seen.Before(oldestSeen) {
			oldest = i
			oldestSeen = seen
		}
	}
	return candidates[oldest], nil
}
