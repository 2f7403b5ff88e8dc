package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Zimbwa03/nerdx-bot/internal/kv"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	store := kv.NewMemoryStoreWithSweep(0)
	t.Cleanup(func() { _ = store.Close() })
	return New(Config{Store: store})
}

func TestCheckAndMarkCooldown(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	limited, err := l.CheckAndMark(ctx, "u1", "question", time.Minute)
	if err != nil {
		t.Fatalf("CheckAndMark: %v", err)
	}
	if limited {
		t.Fatalf("first call should not be limited")
	}

	limited, err = l.CheckAndMark(ctx, "u1", "question", time.Minute)
	if err != nil {
		t.Fatalf("CheckAndMark: %v", err)
	}
	if !limited {
		t.Fatalf("second call within cooldown should be limited")
	}

	remaining, err := l.RemainingCooldown(ctx, "u1", "question")
	if err != nil {
		t.Fatalf("RemainingCooldown: %v", err)
	}
	if remaining <= 50*time.Second || remaining > time.Minute {
		t.Fatalf("unexpected remaining cooldown %v", remaining)
	}
}

func TestCheckAndMarkIsolatedPerUserAndAction(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	if limited, _ := l.CheckAndMark(ctx, "u1", "question", time.Minute); limited {
		t.Fatalf("u1 question should pass")
	}
	if limited, _ := l.CheckAndMark(ctx, "u2", "question", time.Minute); limited {
		t.Fatalf("different user should not share cooldown")
	}
	if limited, _ := l.CheckAndMark(ctx, "u1", "exam", time.Minute); limited {
		t.Fatalf("different action should not share cooldown")
	}
}

func TestCheckAndMarkExpires(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	if limited, _ := l.CheckAndMark(ctx, "u1", "question", 20*time.Millisecond); limited {
		t.Fatalf("first call should pass")
	}
	time.Sleep(30 * time.Millisecond)
	limited, err := l.CheckAndMark(ctx, "u1", "question", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("CheckAndMark: %v", err)
	}
	if limited {
		t.Fatalf("call after cooldown elapsed should pass")
	}
}

func TestReset(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	if limited, _ := l.CheckAndMark(ctx, "u1", "question", time.Minute); limited {
		t.Fatalf("first call should pass")
	}
	if err := l.Reset(ctx, "u1", "question"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if limited, _ := l.CheckAndMark(ctx, "u1", "question", time.Minute); limited {
		t.Fatalf("call after reset should pass")
	}
	remaining, err := l.RemainingCooldown(ctx, "u1", "exam")
	if err != nil || remaining != 0 {
		t.Fatalf("untouched action should report zero cooldown, got %v err=%v", remaining, err)
	}
}

func TestResetRequiresActionKeys(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	if limited, _ := l.CheckAndMark(ctx, "u1", "question", time.Minute); limited {
		t.Fatalf("first call should pass")
	}
	if err := l.Reset(ctx, "u1"); err == nil {
		t.Fatalf("Reset without action keys must be rejected")
	}
	if limited, _ := l.CheckAndMark(ctx, "u1", "question", time.Minute); !limited {
		t.Fatalf("rejected reset must leave cooldowns intact")
	}
}

func TestActiveFlagSingleHolder(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	const contenders = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	holders := 0
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			busy, err := l.CheckActive(ctx, "u1", "generate")
			if err != nil {
				t.Errorf("CheckActive: %v", err)
				return
			}
			if !busy {
				mu.Lock()
				holders++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if holders != 1 {
		t.Fatalf("expected exactly one holder, got %d", holders)
	}

	if err := l.ClearActive(ctx, "u1", "generate"); err != nil {
		t.Fatalf("ClearActive: %v", err)
	}
	busy, err := l.CheckActive(ctx, "u1", "generate")
	if err != nil {
		t.Fatalf("CheckActive: %v", err)
	}
	if busy {
		t.Fatalf("flag should be claimable after ClearActive")
	}
}

func TestActiveFlagSafetyTTL(t *testing.T) {
	store := kv.NewMemoryStoreWithSweep(0)
	t.Cleanup(func() { _ = store.Close() })
	l := New(Config{Store: store, ActiveTTL: 20 * time.Millisecond})
	ctx := context.Background()

	if busy, _ := l.CheckActive(ctx, "u1", "generate"); busy {
		t.Fatalf("first claim should succeed")
	}
	time.Sleep(30 * time.Millisecond)
	busy, err := l.CheckActive(ctx, "u1", "generate")
	if err != nil {
		t.Fatalf("CheckActive: %v", err)
	}
	if busy {
		t.Fatalf("stale flag should expire so the user is not wedged")
	}
}
