package history

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
)

// SQLiteStore implements Store backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the content-history database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS content_history (
	user_id TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	topic TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (user_id, content_hash)
);
CREATE INDEX IF NOT EXISTS idx_content_history_created ON content_history(created_at);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the handle for health checks.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Record upserts the entry, refreshing created_at on re-serve.
func (s *SQLiteStore) Record(ctx context.Context, userID, contentHash, topic string) error {
	if userID == "" || contentHash == "" {
		return errors.New("history record requires user id and content hash")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO content_history(user_id, content_hash, topic, created_at)
VALUES(?, ?, ?, ?)
ON CONFLICT(user_id, content_hash) DO UPDATE SET created_at = excluded.created_at, topic = excluded.topic`,
		userID, contentHash, topic, time.Now().UTC())
	return err
}

// LastSeen returns when the user last saw the hash.
func (s *SQLiteStore) LastSeen(ctx context.Context, userID, contentHash string) (time.Time, bool, error) {
	var seen time.Time
	err := s.db.QueryRowContext(ctx, `
SELECT created_at FROM content_history WHERE user_id = ? AND content_hash = ?`,
		userID, contentHash).Scan(&seen)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return seen, true, nil
}

// Prune removes entries older than the cutoff.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM content_history WHERE created_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
