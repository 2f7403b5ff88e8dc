package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/Zimbwa03/nerdx-bot/internal/ledger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateAccountIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateAccount(ctx, "u1", 75); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	// replay with a different opening balance must not reset the account
	if err := store.CreateAccount(ctx, "u1", 999); err != nil {
		t.Fatalf("CreateAccount replay: %v", err)
	}
	balance, err := store.Balance(ctx, "u1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 75 {
		t.Fatalf("expected balance 75, got %d", balance)
	}
}

func TestBalanceNoAccount(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Balance(context.Background(), "ghost"); !errors.Is(err, ledger.ErrNoAccount) {
		t.Fatalf("expected ErrNoAccount, got %v", err)
	}
}

func TestDeductGuard(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.CreateAccount(ctx, "u1", 10); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	ok, err := store.Deduct(ctx, "u1", 4)
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if !ok {
		t.Fatalf("deduct within balance should succeed")
	}
	balance, _ := store.Balance(ctx, "u1")
	if balance != 6 {
		t.Fatalf("expected balance 6, got %d", balance)
	}

	ok, err = store.Deduct(ctx, "u1", 7)
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if ok {
		t.Fatalf("deduct beyond balance should fail")
	}
	balance, _ = store.Balance(ctx, "u1")
	if balance != 6 {
		t.Fatalf("failed deduct must not change balance, got %d", balance)
	}
}

func TestConcurrentDeductNeverOverdraws(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.CreateAccount(ctx, "u1", 10); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	// 7 + 7 > 10: at most one of the two can win
	var wg sync.WaitGroup
	results := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Deduct(ctx, "u1", 7)
			if err != nil {
				t.Errorf("Deduct: %v", err)
				return
			}
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	if wins > 1 {
		t.Fatalf("both deductions succeeded, balance overdrawn")
	}
	balance, _ := store.Balance(ctx, "u1")
	if balance < 0 {
		t.Fatalf("balance went negative: %d", balance)
	}
	if wins == 1 && balance != 3 {
		t.Fatalf("expected balance 3 after one win, got %d", balance)
	}
}

func TestAddRequiresAccount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Add(ctx, "ghost", 5); !errors.Is(err, ledger.ErrNoAccount) {
		t.Fatalf("expected ErrNoAccount, got %v", err)
	}
	if err := store.CreateAccount(ctx, "u1", 0); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := store.Add(ctx, "u1", 5); err != nil {
		t.Fatalf("Add: %v", err)
	}
	balance, _ := store.Balance(ctx, "u1")
	if balance != 5 {
		t.Fatalf("expected balance 5, got %d", balance)
	}
}

func TestTransactionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id := uuid.NewString()
	txn := ledger.Transaction{ID: id, UserID: "u1", Delta: -3, ActionKey: "question", Status: ledger.StatusPending}
	if err := store.RecordTransaction(ctx, txn); err != nil {
		t.Fatalf("RecordTransaction: %v", err)
	}
	if err := store.SettleTransaction(ctx, id, ledger.StatusCommitted); err != nil {
		t.Fatalf("SettleTransaction: %v", err)
	}
	// settling twice must fail: the record is no longer pending
	if err := store.SettleTransaction(ctx, id, ledger.StatusRolledBack); err == nil {
		t.Fatalf("expected error settling a settled transaction")
	}

	recent, err := store.ListRecent(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(recent))
	}
	if recent[0].Status != ledger.StatusCommitted {
		t.Fatalf("unexpected status %s", recent[0].Status)
	}
}

func TestRecordTransactionValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.RecordTransaction(ctx, ledger.Transaction{UserID: "u1", Status: ledger.StatusPending}); err == nil {
		t.Fatalf("expected error for missing id")
	}
	if err := store.RecordTransaction(ctx, ledger.Transaction{ID: uuid.NewString(), UserID: "u1", Status: "unexpected"}); err == nil {
		t.Fatalf("expected error for invalid status")
	}
}
