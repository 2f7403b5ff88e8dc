package history

import (
	"context"
	"sync"
	"time"
)

type seenKey struct {
	userID string
	hash   string
}

// MemoryStore implements Store in memory, for tests and single-process runs
// that do not need history to survive a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	seen   map[seenKey]Entry
}

// NewMemoryStore creates an in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[seenKey]Entry)}
}

func (s *MemoryStore) Record(ctx context.Context, userID, contentHash, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[seenKey{userID, contentHash}] = Entry{
		UserID:      userID,
		ContentHash: contentHash,
		Topic:       topic,
		CreatedAt:   time.Now().UTC(),
	}
	return nil
}

func (s *MemoryStore) LastSeen(ctx context.Context, userID, contentHash string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.seen[seenKey{userID, contentHash}]
	if !ok {
		return time.Time{}, false, nil
	}
	return e.CreatedAt, true, nil
}

func (s *MemoryStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, e := range s.seen {
		if e.CreatedAt.Before(olderThan) {
			delete(s.seen, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() error { return nil }

// record is a test hook for backdating entries.
func (s *MemoryStore) record(userID, contentHash, topic string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[seenKey{userID, contentHash}] = Entry{UserID: userID, ContentHash: contentHash, Topic: topic, CreatedAt: at}
}
