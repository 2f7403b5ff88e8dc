package kv

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

type shard struct {
	mu      sync.Mutex
	entries map[string]entry
}

// MemoryStore implements Store with sharded maps so concurrent users do not
// contend on a single lock. Expired entries are dropped lazily on access and
// by a background sweep.
type MemoryStore struct {
	shards [shardCount]*shard

	sweepInterval time.Duration
	stopSweep     chan struct{}
	stopOnce      sync.Once
}

// NewMemoryStore creates an in-memory store with the default sweep interval.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithSweep(5 * time.Minute)
}

// NewMemoryStoreWithSweep creates an in-memory store with a custom sweep
// interval. A non-positive interval disables the background sweep.
func NewMemoryStoreWithSweep(interval time.Duration) *MemoryStore {
	s := &MemoryStore{
		sweepInterval: interval,
		stopSweep:     make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]entry)}
	}
	if interval > 0 {
		go s.sweepLoop()
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(sh.entries, key)
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.entries[key] = newEntry(value, ttl)
	return nil
}

func (s *MemoryStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if e, ok := sh.entries[key]; ok {
		if e.expiresAt.IsZero() || time.Now().Before(e.expiresAt) {
			return false, nil
		}
		// expired, fall through and claim
	}
	sh.entries[key] = newEntry(value, ttl)
	return true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	delete(sh.entries, key)
	return nil
}

func (s *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		return 0, ErrNotFound
	}
	if e.expiresAt.IsZero() {
		return 0, nil
	}
	remaining := time.Until(e.expiresAt)
	if remaining <= 0 {
		delete(sh.entries, key)
		return 0, ErrNotFound
	}
	return remaining, nil
}

// Close stops the background sweep.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopSweep) })
	return nil
}

func newEntry(value []byte, ttl time.Duration) entry {
	e := entry{value: make([]byte, len(value))}
	copy(e.value, value)
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	return e
}

func (s *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopSweep:
			return
		}
	}
}

// sweep removes expired entries to keep memory bounded. Correctness of Get
// and SetNX does not depend on it.
func (s *MemoryStore) sweep() {
	now := time.Now()
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, e := range sh.entries {
			if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
				delete(sh.entries, key)
			}
		}
		sh.mu.Unlock()
	}
}

// Len reports the number of live entries, for diagnostics.
func (s *MemoryStore) Len() int {
	n := 0
	now := time.Now()
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, e := range sh.entries {
			if e.expiresAt.IsZero() || now.Before(e.expiresAt) {
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}
