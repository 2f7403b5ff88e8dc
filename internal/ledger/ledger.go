package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status tracks the lifecycle of a credit transaction. A pending transaction
// never affects a balance; only a committed one does.
type Status string

const (
	StatusPending    Status = "pending"
	StatusCommitted  Status = "committed"
	StatusRolledBack Status = "rolled_back"
)

// Account holds a user's credit balance. Balance never goes negative; the
// store enforces this with a conditional decrement.
type Account struct {
	UserID    string    `json:"user_id"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

// Transaction is the audit record behind every balance adjustment.
type Transaction struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Delta     int64     `json:"delta"`
	ActionKey string    `json:"action_key"`
	Status    Status    `json:"status"`
	Memo      string    `json:"memo,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Validation is the read-only sufficiency report for an action.
type Validation struct {
	Sufficient bool  `json:"sufficient"`
	Balance    int64 `json:"balance"`
	Required   int64 `json:"required"`
	Shortage   int64 `json:"shortage"`
}

// ErrNoAccount is returned for users without a credit account.
var ErrNoAccount = errors.New("ledger: no account")

// InsufficientCreditsError carries the numbers the user needs to see.
type InsufficientCreditsError struct {
	Balance  int64
	Required int64
	Shortage int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: balance=%d required=%d shortage=%d", e.Balance, e.Required, e.Shortage)
}

// Store defines persistence behaviour for accounts and transactions.
type Store interface {
	// CreateAccount creates the account with an opening balance. Creating an
	// existing account is a no-op so registration retries stay idempotent.
	CreateAccount(ctx context.Context, userID string, openingBalance int64) error

	// Balance returns the current balance, or ErrNoAccount.
	Balance(ctx context.Context, userID string) (int64, error)

	// Deduct atomically subtracts amount guarded by balance >= amount.
	// Returns false without mutating when the guard fails, so concurrent
	// deductions can never jointly overdraw the account.
	Deduct(ctx context.Context, userID string, amount int64) (bool, error)

	// Add atomically credits the account.
	Add(ctx context.Context, userID string, amount int64) error

	// RecordTransaction inserts an audit record.
	RecordTransaction(ctx context.Context, txn Transaction) error

	// SettleTransaction moves a pending transaction to committed or rolled_back.
	SettleTransaction(ctx context.Context, id string, status Status) error

	// ListRecent returns the latest transactions for a user.
	ListRecent(ctx context.Context, userID string, limit int) ([]Transaction, error)

	Close() error
}
