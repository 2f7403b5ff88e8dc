package dedup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Zimbwa03/nerdx-bot/internal/kv"
)

type failingStore struct {
	kv.Store
}

func (f *failingStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return false, errors.New("store down")
}

func TestRecordIfNewFirstDeliveryOnly(t *testing.T) {
	store := kv.NewMemoryStoreWithSweep(0)
	t.Cleanup(func() { _ = store.Close() })
	g := New(Config{Store: store})
	ctx := context.Background()

	fresh, err := g.RecordIfNew(ctx, "wamid.1")
	if err != nil {
		t.Fatalf("RecordIfNew: %v", err)
	}
	if !fresh {
		t.Fatalf("first delivery should be fresh")
	}
	fresh, err = g.RecordIfNew(ctx, "wamid.1")
	if err != nil {
		t.Fatalf("RecordIfNew: %v", err)
	}
	if fresh {
		t.Fatalf("duplicate delivery should not be fresh")
	}
}

func TestRecordIfNewConcurrentDuplicates(t *testing.T) {
	store := kv.NewMemoryStoreWithSweep(0)
	t.Cleanup(func() { _ = store.Close() })
	g := New(Config{Store: store})
	ctx := context.Background()

	const deliveries = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	freshCount := 0
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fresh, err := g.RecordIfNew(ctx, "wamid.race")
			if err != nil {
				t.Errorf("RecordIfNew: %v", err)
				return
			}
			if fresh {
				mu.Lock()
				freshCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if freshCount != 1 {
		t.Fatalf("expected exactly one fresh delivery, got %d", freshCount)
	}
}

func TestRecordIfNewEmptyID(t *testing.T) {
	store := kv.NewMemoryStoreWithSweep(0)
	t.Cleanup(func() { _ = store.Close() })
	g := New(Config{Store: store})

	fresh, err := g.RecordIfNew(context.Background(), "")
	if err != nil || !fresh {
		t.Fatalf("empty id should pass through: fresh=%v err=%v", fresh, err)
	}
}

func TestRecordIfNewFailClosed(t *testing.T) {
	g := New(Config{Store: &failingStore{}})
	if _, err := g.RecordIfNew(context.Background(), "wamid.2"); err == nil {
		t.Fatalf("expected error when store is down and fail-open disabled")
	}
}

func TestRecordIfNewFailOpen(t *testing.T) {
	g := New(Config{Store: &failingStore{}, FailOpen: true})
	fresh, err := g.RecordIfNew(context.Background(), "wamid.3")
	if err != nil {
		t.Fatalf("fail-open should swallow the error, got %v", err)
	}
	if !fresh {
		t.Fatalf("fail-open should treat the delivery as new")
	}
}

func TestForgetAllowsReprocessing(t *testing.T) {
	store := kv.NewMemoryStoreWithSweep(0)
	t.Cleanup(func() { _ = store.Close() })
	g := New(Config{Store: store})
	ctx := context.Background()

	if _, err := g.RecordIfNew(ctx, "wamid.4"); err != nil {
		t.Fatalf("RecordIfNew: %v", err)
	}
	if err := g.Forget(ctx, "wamid.4"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	fresh, err := g.RecordIfNew(ctx, "wamid.4")
	if err != nil || !fresh {
		t.Fatalf("expected fresh after Forget: fresh=%v err=%v", fresh, err)
	}
}
