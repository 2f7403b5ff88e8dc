// Package dedup restores at-most-once processing per provider message id.
// The upstream chat channel redelivers on retry and users double-tap; every
// inbound delivery must pass through the guard before any business logic.
package dedup

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Zimbwa03/nerdx-bot/internal/kv"
)

// Guard records message ids and tells the first caller apart from duplicates.
type Guard struct {
	store kv.Store
	ttl   time.Duration

	// failOpen treats a store failure as "new message" instead of
	// propagating, trading possible duplicate processing for availability.
	failOpen bool
	logger   *log.Logger
}

// Config configures the guard.
type Config struct {
	Store    kv.Store
	TTL      time.Duration // receipt lifetime, default 1h
	FailOpen bool
	Logger   *log.Logger
}

// New creates a Guard.
func New(cfg Config) *Guard {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &Guard{
		store:    cfg.Store,
		ttl:      cfg.TTL,
		failOpen: cfg.FailOpen,
		logger:   cfg.Logger,
	}
}

// RecordIfNew atomically claims the message id and returns true only for the
// first delivery. Subsequent deliveries within the receipt TTL return false.
func (g *Guard) RecordIfNew(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		// No id to deduplicate on; process rather than drop.
		return true, nil
	}
	key := "msg:" + messageID
	claimed, err := g.store.SetNX(ctx, key, []byte(time.Now().UTC().Format(time.RFC3339Nano)), g.ttl)
	if err != nil {
		if g.failOpen {
			if g.logger != nil {
				g.logger.Printf("[dedup] store unavailable, failing open msg=%s err=%v", messageID, err)
			}
			return true, nil
		}
		return false, fmt.Errorf("dedup record: %w", err)
	}
	return claimed, nil
}

// Forget drops the receipt so the id can be processed again. Used when a
// delivery was claimed but never reached a handler (e.g. queue saturation),
// so the provider's retry is not silently discarded.
func (g *Guard) Forget(ctx context.Context, messageID string) error {
	if messageID == "" {
		return nil
	}
	return g.store.Delete(ctx, "msg:"+messageID)
}
