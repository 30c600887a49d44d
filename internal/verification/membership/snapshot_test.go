package membership

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	values map[string]string
	ttl    map[string]time.Duration
	err    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttl: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	case string:
		f.values[key] = v
	}
	f.ttl[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func TestRedisSnapshotCache(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	cache := NewRedisSnapshotCache(client, 0)

	_, err := cache.Load(ctx)
	require.ErrorIs(t, err, ErrSnapshotMissing)

	tier := "pioneer"
	require.NoError(t, cache.Save(ctx, []Entry{{Email: "a@b.co", MembershipID: []byte("7"), MembershipName: &tier}}))
	assert.Equal(t, DefaultSnapshotTTL, client.ttl[snapshotKey])

	entries, err := cache.Load(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, Status{IsMember: true, Tier: "pioneer"}, Match(entries, "A@B.CO"))
}

func TestRedisSnapshotCacheErrors(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	client.err = errors.New("connection refused")
	cache := NewRedisSnapshotCache(client, time.Minute)

	_, err := cache.Load(ctx)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSnapshotMissing))

	assert.Error(t, cache.Save(ctx, nil))
}

func TestInMemorySnapshotCacheKeepsEmptyDirectory(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(0, 0)
	cache := NewInMemorySnapshotCache(time.Minute)
	cache.now = func() time.Time { return now }

	_, err := cache.Load(ctx)
	require.ErrorIs(t, err, ErrSnapshotMissing)

	require.NoError(t, cache.Save(ctx, nil))
	entries, err := cache.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, Status{}, Match(entries, "a@b.co"))

	now = now.Add(2 * time.Minute)
	_, err = cache.Load(ctx)
	assert.ErrorIs(t, err, ErrSnapshotMissing)
}

func TestRedisSnapshotCacheStoresEmptyDirectoryAsArray(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	cache := NewRedisSnapshotCache(client, time.Minute)

	require.NoError(t, cache.Save(ctx, nil))

	assert.Equal(t, "[]", client.values[snapshotKey])
	entries, err := cache.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
