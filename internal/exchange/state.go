package exchange

import (
	"context"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// stateTTL bounds how long an issued authorization URL stays valid.
const stateTTL = 5 * time.Minute

// StateStore tracks pending anti-forgery states between BeginAuthorization
// and the provider's redirect back.
type StateStore interface {
	Put(ctx context.Context, state string) error

	// Consume validates and removes a pending state in one step, so a
	// state can never be replayed.
	Consume(ctx context.Context, state string) (bool, error)
}

type RedisStateStore struct {
	client *goredis.Client
	prefix string
}

func NewRedisStateStore(client *goredis.Client) *RedisStateStore {
	return &RedisStateStore{client: client, prefix: "oauth_state:"}
}

func (r *RedisStateStore) Put(ctx context.Context, state string) error {
	return r.client.Set(ctx, r.prefix+state, "1", stateTTL).Err()
}

func (r *RedisStateStore) Consume(ctx context.Context, state string) (bool, error) {
	n, err := r.client.Del(ctx, r.prefix+state).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MemoryStateStore is the in-process StateStore for tests and
// development.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]time.Time)}
}

func (m *MemoryStateStore) Put(ctx context.Context, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state] = time.Now().Add(stateTTL)
	return nil
}

func (m *MemoryStateStore) Consume(ctx context.Context, state string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deadline, ok := m.states[state]
	if !ok {
		return false, nil
	}
	delete(m.states, state)
	return time.Now().Before(deadline), nil
}
