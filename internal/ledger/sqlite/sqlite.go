package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/Zimbwa03/nerdx-bot/internal/ledger"
)

// Store implements ledger.Store backed by SQLite. Suitable for a single bot
// instance; multi-instance deployments should use the postgres store.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	// sqlite allows one writer; serialize access instead of surfacing
	// SQLITE_BUSY to concurrent handlers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS credit_accounts (
	user_id TEXT PRIMARY KEY,
	balance INTEGER NOT NULL CHECK(balance >= 0),
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS credit_transactions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	delta INTEGER NOT NULL,
	action_key TEXT NOT NULL,
	status TEXT NOT NULL CHECK(status IN ('pending','committed','rolled_back')),
	memo TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_credit_transactions_user_created ON credit_transactions(user_id, created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// CreateAccount inserts the account if absent; replays are no-ops.
func (s *Store) CreateAccount(ctx context.Context, userID string, openingBalance int64) error {
	if userID == "" {
		return errors.New("user id required")
	}
	if openingBalance < 0 {
		return fmt.Errorf("opening balance must be non-negative, got %d", openingBalance)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO credit_accounts(user_id, balance) VALUES(?, ?)`, userID, openingBalance)
	return err
}

// Balance returns the current balance for the user.
func (s *Store) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `
SELECT balance FROM credit_accounts WHERE user_id = ?`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ledger.ErrNoAccount
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Deduct subtracts amount only while balance covers it. The guard and the
// subtraction are one statement, so concurrent deductions cannot overdraw.
func (s *Store) Deduct(ctx context.Context, userID string, amount int64) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("deduct amount must be positive, got %d", amount)
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE credit_accounts SET balance = balance - ? WHERE user_id = ? AND balance >= ?`,
		amount, userID, amount)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// Add credits the account.
func (s *Store) Add(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("add amount must be positive, got %d", amount)
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE credit_accounts SET balance = balance + ? WHERE user_id = ?`, amount, userID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ledger.ErrNoAccount
	}
	return nil
}

// RecordTransaction inserts an audit record.
func (s *Store) RecordTransaction(ctx context.Context, txn ledger.Transaction) error {
	if txn.ID == "" || txn.UserID == "" {
		return errors.New("transaction requires id and user id")
	}
	switch txn.Status {
	case ledger.StatusPending, ledger.StatusCommitted, ledger.StatusRolledBack:
	default:
		return fmt.Errorf("invalid status %q", txn.Status)
	}
	created := txn.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO credit_transactions(id, user_id, delta, action_key, status, memo, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?)`,
		txn.ID, txn.UserID, txn.Delta, txn.ActionKey, string(txn.Status), txn.Memo, created)
	return err
}

// SettleTransaction finalizes a pending transaction.
func (s *Store) SettleTransaction(ctx context.Context, id string, status ledger.Status) error {
	if status != ledger.StatusCommitted && status != ledger.StatusRolledBack {
		return fmt.Errorf("settle status must be committed or rolled_back, got %q", status)
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE credit_transactions SET status = ? WHERE id = ? AND status = 'pending'`, string(status), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("transaction %s not pending", id)
	}
	return nil
}

// ListRecent returns the latest transactions for a user.
func (s *Store) ListRecent(ctx context.Context, userID string, limit int) ([]ledger.Transaction, error) {
	if userID == "" {
		return nil, errors.New("user id required")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, delta, action_key, status, COALESCE(memo, ''), created_at
FROM credit_transactions
WHERE user_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []ledger.Transaction
	for rows.Next() {
		var t ledger.Transaction
		var status string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Delta, &t.ActionKey, &status, &t.Memo, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Status = ledger.Status(status)
		txns = append(txns, t)
	}
	return txns, rows.Err()
}
