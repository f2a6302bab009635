package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed session store. Keys expire at
// the session's absolute expiry, which is the lazy garbage collection:
// inactive sessions stay visible until then so artifact replay after
// rotation is detectable.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "session:",
	}
}

func (r *RedisStore) key(sessionID string) string {
	return r.prefix + sessionID
}

func (r *RedisStore) Create(ctx context.Context, s Session) error {
	if s.SessionID == "" || s.IdentityID == "" {
		return fmt.Errorf("session: missing session_id or identity_id")
	}

	ttl := time.Until(s.AbsoluteExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session: absolute expiry must be in the future")
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}

	return r.client.Set(ctx, r.key(s.SessionID), data, ttl).Err()
}

func (r *RedisStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	val, err := r.client.Get(ctx, r.key(sessionID)).Result()
	if err == redis.Nil {
		return nil, nil // not found
	}
	if err != nil {
		return nil, err
	}

	var s Session
	if err := json.Unmarshal([]byte(val), &s); err != nil {
		return nil, fmt.Errorf("session: failed to unmarshal: %w", err)
	}

	return &s, nil
}

func (r *RedisStore) Update(ctx context.Context, s Session) error {
	if s.SessionID == "" {
		return fmt.Errorf("session: missing session_id")
	}

	ttl := time.Until(s.AbsoluteExpiresAt)
	if ttl <= 0 {
		// Past absolute expiry nothing can use the row, drop it.
		return r.client.Del(ctx, r.key(s.SessionID)).Err()
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}

	return r.client.Set(ctx, r.key(s.SessionID), data, ttl).Err()
}

// claimRetries bounds the optimistic-locking loop below. A retry only
// happens when another writer touched the key mid-claim; the re-read
// then observes the retired session, so contention settles fast.
const claimRetries = 5

// Claim retires an active artifact with a WATCH/MULTI compare-and-set,
// so two replicas renewing the same artifact cannot both observe it
// active.
func (r *RedisStore) Claim(ctx context.Context, sessionID, successorID string) (*Session, error) {
	key := r.key(sessionID)
	var snapshot *Session

	claim := func(tx *redis.Tx) error {
		snapshot = nil

		val, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}

		var s Session
		if err := json.Unmarshal([]byte(val), &s); err != nil {
			return fmt.Errorf("session: failed to unmarshal: %w", err)
		}
		before := s
		snapshot = &before

		if !s.Active {
			return nil
		}

		s.Active = false
		s.ReplacedBy = successorID
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("session: failed to marshal: %w", err)
		}

		ttl := time.Until(s.AbsoluteExpiresAt)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if ttl <= 0 {
				pipe.Del(ctx, key)
			} else {
				pipe.Set(ctx, key, data, ttl)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < claimRetries; attempt++ {
		err := r.client.Watch(ctx, claim, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, err
		}
		return snapshot, nil
	}
	return nil, fmt.Errorf("session: claim contention on artifact")
}

func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, r.key(sessionID)).Err()
}
