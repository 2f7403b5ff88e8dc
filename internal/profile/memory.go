package profile

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store in memory, for tests.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]Profile)}
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	out := p
	return &out, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *p
	now := time.Now().UTC()
	if existing, ok := s.profiles[p.UserID]; ok {
		stored.CreatedAt = existing.CreatedAt
		stored.LinkedEmail = existing.LinkedEmail
	} else {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.profiles[p.UserID] = stored
	return nil
}

func (s *MemoryStore) LinkEmail(ctx context.Context, userID, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return ErrNotFound
	}
	p.LinkedEmail = email
	p.UpdatedAt = time.Now().UTC()
	s.profiles[userID] = p
	return nil
}

func (s *MemoryStore) Close() error { return nil }
