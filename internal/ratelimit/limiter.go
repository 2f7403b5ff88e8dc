package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/Zimbwa03/nerdx-bot/internal/kv"
)

// Limiter enforces per-user, per-action cooldowns plus "single in-flight
// operation" flags on top of the shared key-value substrate. State is
// partitioned by (user, action) key, so there is no global lock.
//
// For single-instance deployments back it with kv.MemoryStore; for
// multi-instance deployments use kv.RedisStore so cooldowns are shared.
type Limiter struct {
	store kv.Store

	// activeTTL bounds how long an in-flight flag can outlive a crashed
	// worker before the user is unwedged automatically.
	activeTTL time.Duration
}

// Config holds configuration for the limiter.
type Config struct {
	Store     kv.Store
	ActiveTTL time.Duration // default 3m
}

// New creates a Limiter with the given configuration.
func New(cfg Config) *Limiter {
	if cfg.ActiveTTL <= 0 {
		cfg.ActiveTTL = 3 * time.Minute
	}
	return &Limiter{store: cfg.Store, activeTTL: cfg.ActiveTTL}
}

func cooldownKey(userID, actionKey string) string {
	return "rl:" + userID + ":" + actionKey
}

func activeKey(userID, actionKey string) string {
	return "active:" + userID + ":" + actionKey
}

// CheckAndMark reports whether the action is rate limited. When the previous
// permitted event is outside the cooldown the call records now and returns
// false; when inside, state is left untouched and it returns true.
func (l *Limiter) CheckAndMark(ctx context.Context, userID, actionKey string, cooldown time.Duration) (bool, error) {
	if cooldown <= 0 {
		return false, nil
	}
	claimed, err := l.store.SetNX(ctx, cooldownKey(userID, actionKey), []byte("1"), cooldown)
	if err != nil {
		return false, err
	}
	return !claimed, nil
}

// RemainingCooldown returns how long until the action is permitted again.
// Zero means the action is not currently limited.
func (l *Limiter) RemainingCooldown(ctx context.Context, userID, actionKey string) (time.Duration, error) {
	d, err := l.store.TTL(ctx, cooldownKey(userID, actionKey))
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return d, nil
}

// Reset clears the user's cooldowns for the named actions. At least one
// action key is required: cooldown state is partitioned per (user, action)
// key in the store, which cannot enumerate a user's keys, so there is no
// clear-everything form.
func (l *Limiter) Reset(ctx context.Context, userID string, actionKeys ...string) error {
	if len(actionKeys) == 0 {
		return errors.New("ratelimit: reset requires at least one action key")
	}
	for _, action := range actionKeys {
		if err := l.store.Delete(ctx, cooldownKey(userID, action)); err != nil {
			return err
		}
	}
	return nil
}

// CheckActive claims the in-flight flag for (user, action). It returns true
// when another operation already holds the flag, independent of any
// time-based cooldown. The flag carries a safety TTL so a crashed worker
// cannot wedge the user forever.
func (l *Limiter) CheckActive(ctx context.Context, userID, actionKey string) (bool, error) {
	claimed, err := l.store.SetNX(ctx, activeKey(userID, actionKey), []byte("1"), l.activeTTL)
	if err != nil {
		return false, err
	}
	return !claimed, nil
}

// ClearActive releases the in-flight flag.
func (l *Limiter) ClearActive(ctx context.Context, userID, actionKey string) error {
	return l.store.Delete(ctx, activeKey(userID, actionKey))
}

// Close releases the underlying store.
func (l *Limiter) Close() error {
	return l.store.Close()
}
