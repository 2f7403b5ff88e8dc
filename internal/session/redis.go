package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const updateRetries = 3

// RedisStore persists sessions in Redis with optimistic locking so multiple
// bot instances can mutate the same user's session safely. The key TTL is a
// memory bound only; per-variant staleness is enforced by readers via
// UpdatedAt.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps a Redis client. A non-positive ttl defaults to 24h.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

func sessionKey(userID string) string {
	return "session:" + userID
}

func (s *RedisStore) Get(ctx context.Context, userID string) (*Session, error) {
	val, err := s.client.Get(ctx, sessionKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(val, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *RedisStore) Set(ctx context.Context, sess *Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	sess.Version++

	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, sessionKey(sess.UserID), raw, s.ttl).Err()
}

func (s *RedisStore) Update(ctx context.Context, userID string, mutate func(*Session) error) (*Session, error) {
	key := sessionKey(userID)

	var result *Session
	for attempt := 0; attempt < updateRetries; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			val, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}

			var sess Session
			if err := json.Unmarshal(val, &sess); err != nil {
				return err
			}
			if err := mutate(&sess); err != nil {
				return err
			}
			if err := sess.Validate(); err != nil {
				return err
			}
			sess.UpdatedAt = time.Now().UTC()
			sess.Version++

			raw, err := json.Marshal(&sess)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, raw, s.ttl)
				return nil
			})
			if err == nil {
				result = &sess
			}
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			// Another writer won the race; retry against a fresh read.
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, ErrVersionConflict
}

func (s *RedisStore) Clear(ctx context.Context, userID string) error {
	return s.client.Del(ctx, sessionKey(userID)).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
