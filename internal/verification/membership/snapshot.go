package membership

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSnapshotMissing is returned when no unexpired snapshot exists.
var ErrSnapshotMissing = errors.New("directory snapshot missing")

// DefaultSnapshotTTL bounds how stale a fallback answer can be.
const DefaultSnapshotTTL = 10 * time.Minute

// SnapshotCache persists the last successfully fetched directory.
type SnapshotCache interface {
	Load(ctx context.Context) ([]Entry, error)
	Save(ctx context.Context, entries []Entry) error
}

// InMemorySnapshotCache keeps the snapshot in process memory.
type InMemorySnapshotCache struct {
	mu      sync.RWMutex
	entries []Entry
	saved   bool
	savedAt time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewInMemorySnapshotCache creates a cache whose snapshot expires after ttl.
func NewInMemorySnapshotCache(ttl time.Duration) *InMemorySnapshotCache {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &InMemorySnapshotCache{ttl: ttl, now: time.Now}
}

func (c *InMemorySnapshotCache) Load(_ context.Context) ([]Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.saved || c.now().Sub(c.savedAt) > c.ttl {
		return nil, ErrSnapshotMissing
	}
	return c.entries, nil
}

func (c *InMemorySnapshotCache) Save(_ context.Context, entries []Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(make([]Entry, 0, len(entries)), entries...)
	c.saved = true
	c.savedAt = c.now()
	return nil
}

const snapshotKey = "membership:directory:snapshot"

// RedisCmdable is the subset of go-redis used by the Redis stores.
type RedisCmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisSnapshotCache stores the snapshot as JSON under a single key with a TTL,
// so every bot replica shares it.
type RedisSnapshotCache struct {
	client RedisCmdable
	ttl    time.Duration
}

// NewRedisSnapshotCache creates a Redis-backed snapshot cache.
func NewRedisSnapshotCache(client RedisCmdable, ttl time.Duration) *RedisSnapshotCache {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &RedisSnapshotCache{client: client, ttl: ttl}
}

func (c *RedisSnapshotCache) Load(ctx context.Context) ([]Entry, error) {
	data, err := c.client.Get(ctx, snapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotMissing
	}
	if err != nil {
		return nil, fmt.Errorf("redis get snapshot: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return entries, nil
}

func (c *RedisSnapshotCache) Save(ctx context.Context, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.client.Set(ctx, snapshotKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set snapshot: %w", err)
	}
	return nil
}
