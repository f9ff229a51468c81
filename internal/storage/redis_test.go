package storage

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nft-syncer/internal/config"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisCacheFromClient(client)
	t.Cleanup(func() { _ = cache.Close() })
	return cache, mr
}

func TestNewRedisCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cache, err := NewRedisCache(&config.RedisConfig{
		Host:           mr.Host(),
		Port:           mr.Port(),
		MaxConnections: 5,
	})
	require.NoError(t, err)
	defer func() { _ = cache.Close() }()

	assert.NoError(t, cache.Ping(testContext(t)))
}

func TestNewRedisCache_Unreachable(t *testing.T) {
	_, err := NewRedisCache(&config.RedisConfig{Host: "127.0.0.1", Port: "1", MaxConnections: 1})
	assert.Error(t, err)
}

func TestRedisCache_SetGet(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := testContext(t)

	require.NoError(t, cache.Set(ctx, "test:key", "test-value", 10*time.Second))

	got, err := cache.Get(ctx, "test:key")
	require.NoError(t, err)
	assert.Equal(t, "test-value", got)

	_, err = cache.Get(ctx, "test:missing")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCache_TTLExpiry(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := testContext(t)

	require.NoError(t, cache.Set(ctx, "block:latest:1", "100", 5*time.Second))
	mr.FastForward(6 * time.Second)

	_, err := cache.Get(ctx, "block:latest:1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCache_IncrWithTTL(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := testContext(t)
	key := "metadata:collection:failcount:1:0xabc"

	n, err := cache.IncrWithTTL(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	mr.FastForward(50 * time.Minute)
	n, err = cache.IncrWithTTL(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// the second increment pushed the expiry out again
	mr.FastForward(50 * time.Minute)
	n, err = cache.IncrWithTTL(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	mr.FastForward(61 * time.Minute)
	assert.False(t, mr.Exists(key))
}
