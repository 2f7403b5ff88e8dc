package kv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStoreWithSweep(0)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMemoryStoreSetGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("unexpected value %q", got)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), 20*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := s.Get(ctx, "k"); err != nil {
		t.Fatalf("Get before expiry: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestMemoryStoreSetNXFirstWriterWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const callers = 50
	var wg sync.WaitGroup
	winners := make(chan int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.SetNX(ctx, "claim", []byte(fmt.Sprintf("%d", i)), time.Minute)
			if err != nil {
				t.Errorf("SetNX: %v", err)
				return
			}
			if ok {
				winners <- i
			}
		}(i)
	}
	wg.Wait()
	close(winners)

	count := 0
	for range winners {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one winner, got %d", count)
	}
}

func TestMemoryStoreSetNXReclaimsExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "k", []byte("a"), 10*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("first SetNX: ok=%v err=%v", ok, err)
	}
	ok, err = s.SetNX(ctx, "k", []byte("b"), time.Minute)
	if err != nil {
		t.Fatalf("second SetNX: %v", err)
	}
	if ok {
		t.Fatalf("second SetNX should lose while key is live")
	}
	time.Sleep(20 * time.Millisecond)
	ok, err = s.SetNX(ctx, "k", []byte("c"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("SetNX after expiry: ok=%v err=%v", ok, err)
	}
}

func TestMemoryStoreTTL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.TTL(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Set(ctx, "forever", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	d, err := s.TTL(ctx, "forever")
	if err != nil || d != 0 {
		t.Fatalf("expected zero ttl for persistent key, got %v err=%v", d, err)
	}
	if err := s.Set(ctx, "timed", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	d, err = s.TTL(ctx, "timed")
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if d <= 50*time.Second || d > time.Minute {
		t.Fatalf("unexpected ttl %v", d)
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	s := NewMemoryStoreWithSweep(10 * time.Millisecond)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := s.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), 5*time.Millisecond); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.Len() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sweep did not evict expired entries, %d left", s.Len())
}
