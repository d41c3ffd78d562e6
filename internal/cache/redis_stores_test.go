package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisOpenTimeStoreRoundTrip(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisOpenTimeStore(client)
	ctx := context.Background()

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	key := "ETH-binance-bybit"

	require.NoError(t, store.RecordOpen(ctx, key, t0))

	hours, ok, err := store.AgeHours(ctx, key, t0.Add(6*time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 6.0, hours, 1e-9)
}

func TestRedisOpenTimeStoreEvictionOnClose(t *testing.T) {
	// Symbol-reuse staleness guard: after RemoveOpen the key must be gone, so a
	// reopened pair starts a fresh age.
	_, client := newTestRedis(t)
	store := NewRedisOpenTimeStore(client)
	ctx := context.Background()

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	key := "ETH-binance-bybit"

	require.NoError(t, store.RecordOpen(ctx, key, t0))
	require.NoError(t, store.RemoveOpen(ctx, key))

	_, ok, err := store.AgeHours(ctx, key, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	// Reopen 100h later: age must reflect only the new open.
	require.NoError(t, store.RecordOpen(ctx, key, t0.Add(100*time.Hour)))
	hours, ok, err := store.AgeHours(ctx, key, t0.Add(101*time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 1.0, hours, 1e-9)
}

func TestRedisOpenTimeStoreUntrackedKey(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisOpenTimeStore(client)

	_, ok, err := store.AgeHours(context.Background(), "missing", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCooldownStore(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisCooldownStore(client)
	ctx := context.Background()

	require.NoError(t, store.MarkFiltered(ctx, "binance-bybit", time.Now().Add(10*time.Minute)))

	filtered, err := store.IsFiltered(ctx, "binance-bybit", time.Now())
	require.NoError(t, err)
	assert.True(t, filtered)

	// Expiry is delegated to the Redis TTL.
	mr.FastForward(11 * time.Minute)

	filtered, err = store.IsFiltered(ctx, "binance-bybit", time.Now())
	require.NoError(t, err)
	assert.False(t, filtered)
}

func TestRedisCooldownStoreIgnoresPastDeadline(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisCooldownStore(client)
	ctx := context.Background()

	require.NoError(t, store.MarkFiltered(ctx, "binance-bybit", time.Now().Add(-time.Minute)))

	filtered, err := store.IsFiltered(ctx, "binance-bybit", time.Now())
	require.NoError(t, err)
	assert.False(t, filtered)
}
