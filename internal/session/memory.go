package session

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"
)

const stripeCount = 32

type stripe struct {
	mu       sync.Mutex
	sessions map[string][]byte
}

// MemoryStore keeps sessions in striped maps; a per-stripe mutex serializes
// Update for users that hash to the same stripe without a single global lock.
// Sessions are stored serialized so callers never share mutable state.
type MemoryStore struct {
	stripes [stripeCount]*stripe
}

// NewMemoryStore creates an in-memory session store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.stripes {
		s.stripes[i] = &stripe{sessions: make(map[string][]byte)}
	}
	return s
}

func (s *MemoryStore) stripeFor(userID string) *stripe {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return s.stripes[h.Sum32()%stripeCount]
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (*Session, error) {
	st := s.stripeFor(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	raw, ok := st.sessions[userID]
	if !ok {
		return nil, nil
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *MemoryStore) Set(ctx context.Context, sess *Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	st := s.stripeFor(sess.UserID)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	sess.Version++

	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	st.sessions[sess.UserID] = raw
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, userID string, mutate func(*Session) error) (*Session, error) {
	st := s.stripeFor(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	raw, ok := st.sessions[userID]
	if !ok {
		return nil, ErrNotFound
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, err
	}
	if err := mutate(&sess); err != nil {
		return nil, err
	}
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	sess.UpdatedAt = time.Now().UTC()
	sess.Version++

	updated, err := json.Marshal(&sess)
	if err != nil {
		return nil, err
	}
	st.sessions[userID] = updated
	return &sess, nil
}

func (s *MemoryStore) Clear(ctx context.Context, userID string) error {
	st := s.stripeFor(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	delete(st.sessions, userID)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
