package ledger

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Operation is the caller-supplied fallible work a charge is conditioned on,
// typically an AI call followed by delivering its result.
type Operation func(ctx context.Context) error

// Ledger is the single entry point for charging paid actions. It unifies the
// validate → execute → deduct-on-success pattern so callers cannot charge for
// failed work or let partial failures slip through for free.
type Ledger struct {
	store  Store
	costs  map[string]int64
	logger *log.Logger
}

// New creates a Ledger. costs maps action keys to their credit price; actions
// missing from the map are free.
func New(store Store, costs map[string]int64, logger *log.Logger) *Ledger {
	if costs == nil {
		costs = map[string]int64{}
	}
	return &Ledger{store: store, costs: costs, logger: logger}
}

// Cost returns the configured price of an action.
func (l *Ledger) Cost(actionKey string) int64 {
	return l.costs[actionKey]
}

// CreateAccount opens an account with the given balance; idempotent.
func (l *Ledger) CreateAccount(ctx context.Context, userID string, openingBalance int64) error {
	return l.store.CreateAccount(ctx, userID, openingBalance)
}

// GetBalance returns the user's balance.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (int64, error) {
	return l.store.Balance(ctx, userID)
}

// Validate reports sufficiency for the action without mutating anything.
func (l *Ledger) Validate(ctx context.Context, userID, actionKey string) (Validation, error) {
	balance, err := l.store.Balance(ctx, userID)
	if err != nil {
		return Validation{}, err
	}
	required := l.costs[actionKey]
	v := Validation{Balance: balance, Required: required}
	if balance >= required {
		v.Sufficient = true
	} else {
		v.Shortage = required - balance
	}
	return v, nil
}

// Deduct performs an unconditional-but-guarded debit with an audit record.
// Returns false when the balance cannot cover the amount.
func (l *Ledger) Deduct(ctx context.Context, userID string, amount int64, reason string) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("deduct amount must be positive, got %d", amount)
	}
	ok, err := l.store.Deduct(ctx, userID, amount)
	if err != nil || !ok {
		return ok, err
	}
	l.audit(ctx, Transaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Delta:     -amount,
		ActionKey: reason,
		Status:    StatusCommitted,
	})
	return true, nil
}

// Add credits the account unconditionally (bonuses, refunds, admin grants).
func (l *Ledger) Add(ctx context.Context, userID string, amount int64, reason string) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("add amount must be positive, got %d", amount)
	}
	if err := l.store.Add(ctx, userID, amount); err != nil {
		return false, err
	}
	l.audit(ctx, Transaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Delta:     amount,
		ActionKey: reason,
		Status:    StatusCommitted,
	})
	return true, nil
}

// ListRecent returns the latest transactions for a user.
func (l *Ledger) ListRecent(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	return l.store.ListRecent(ctx, userID, limit)
}

// ReserveAndExecute charges the action only if op succeeds:
//
//  1. Validate sufficiency; insufficient returns *InsufficientCreditsError
//     without invoking op.
//  2. Record a pending transaction, then run op.
//  3. On success, deduct atomically and commit the transaction; on failure or
//     timeout, deduct nothing and roll the transaction back.
//
// Callers must not invoke this for deliveries already flagged as duplicates;
// the dispatcher guarantees that upstream.
func (l *Ledger) ReserveAndExecute(ctx context.Context, userID, actionKey string, op Operation) error {
	cost := l.costs[actionKey]
	if cost <= 0 {
		return op(ctx)
	}

	v, err := l.Validate(ctx, userID, actionKey)
	if err != nil {
		return err
	}
	if !v.Sufficient {
		return &InsufficientCreditsError{Balance: v.Balance, Required: v.Required, Shortage: v.Shortage}
	}

	txn := Transaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Delta:     -cost,
		ActionKey: actionKey,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.store.RecordTransaction(ctx, txn); err != nil {
		return fmt.Errorf("record reservation: %w", err)
	}

	if err := op(ctx); err != nil {
		l.settle(ctx, txn.ID, StatusRolledBack)
		return err
	}

	ok, err := l.store.Deduct(ctx, userID, cost)
	if err != nil {
		l.settle(ctx, txn.ID, StatusRolledBack)
		return fmt.Errorf("deduct after success: %w", err)
	}
	if !ok {
		// A concurrent charge drained the balance between Validate and
		// Deduct. The work already happened and was delivered, so we do not
		// fail the user; the guard kept the balance non-negative and the
		// rolled-back record keeps the miss auditable.
		l.settle(ctx, txn.ID, StatusRolledBack)
		if l.logger != nil {
			l.logger.Printf("[ledger] balance raced below cost user=%s action=%s cost=%d", userID, actionKey, cost)
		}
		return nil
	}
	l.settle(ctx, txn.ID, StatusCommitted)
	return nil
}

func (l *Ledger) settle(ctx context.Context, id string, status Status) {
	if err := l.store.SettleTransaction(ctx, id, status); err != nil && l.logger != nil {
		l.logger.Printf("[ledger] settle %s -> %s failed: %v", id, status, err)
	}
}

func (l *Ledger) audit(ctx context.Context, txn Transaction) {
	txn.CreatedAt = time.Now().UTC()
	if err := l.store.RecordTransaction(ctx, txn); err != nil && l.logger != nil {
		l.logger.Printf("[ledger] audit record failed user=%s delta=%d: %v", txn.UserID, txn.Delta, err)
	}
}
