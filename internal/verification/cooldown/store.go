// Package cooldown records recently finished verifications so a user cannot
// resubmit within a short window.
package cooldown

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	dErrors "qrverify/pkg/domain-errors"
)

// DefaultWindow matches the interval members are asked to wait between tries.
const DefaultWindow = 5 * time.Second

// ErrCoolingDown is returned by Check when the user is inside the window.
var ErrCoolingDown = dErrors.New(dErrors.CodeRateLimited, "verification cooldown active")

// Store remembers per-user cooldown windows.
type Store interface {
	Touch(ctx context.Context, userID string, window time.Duration) error
	Active(ctx context.Context, userID string) (bool, error)
}

// Check returns ErrCoolingDown when userID is cooling down. Store failures
// are returned as-is and callers decide whether to fail open.
func Check(ctx context.Context, store Store, userID string) error {
	active, err := store.Active(ctx, userID)
	if err != nil {
		return err
	}
	if active {
		return ErrCoolingDown
	}
	return nil
}

// InMemoryStore keeps windows in a map. Expired entries are dropped lazily.
type InMemoryStore struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{until: make(map[string]time.Time), now: time.Now}
}

func (s *InMemoryStore) Touch(_ context.Context, userID string, window time.Duration) error {
	if window <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.until[userID] = s.now().Add(window)
	return nil
}

func (s *InMemoryStore) Active(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.until[userID]
	if !ok {
		return false, nil
	}
	if !s.now().Before(until) {
		delete(s.until, userID)
		return false, nil
	}
	return true, nil
}

// RedisCmdable is the subset of go-redis the Redis store uses.
type RedisCmdable interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps windows as expiring keys so cooldowns survive restarts and
// are shared across replicas.
type RedisStore struct {
	client RedisCmdable
	prefix string
}

// NewRedisStore creates a Redis-backed cooldown store.
func NewRedisStore(client RedisCmdable) *RedisStore {
	return &RedisStore{client: client, prefix: "verification:cooldown:"}
}

func (s *RedisStore) Touch(ctx context.Context, userID string, window time.Duration) error {
	if window <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.prefix+userID, 1, window).Err(); err != nil {
		return fmt.Errorf("redis set cooldown: %w", err)
	}
	return nil
}

func (s *RedisStore) Active(ctx context.Context, userID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+userID).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists cooldown: %w", err)
	}
	return n > 0, nil
}
