package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedis connects to EXCHANGE_TEST_REDIS_ADDR or skips the test
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("EXCHANGE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("EXCHANGE_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisSessionStore(t *testing.T) {
	client := newTestRedis(t)
	store := NewRedisSessionStore(client, time.Minute, "test:exchange:"+uuid.NewString()+":")
	ctx := context.Background()
	accountID := uuid.New()

	first, err := store.GetOrCreate(ctx, accountID, "exchange")
	require.NoError(t, err)
	second, err := store.GetOrCreate(ctx, accountID, "exchange")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	first.RememberExport([]uuid.UUID{uuid.New()})
	require.NoError(t, store.Save(ctx, first))
	loaded, err := store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.ExportedOrderIDs, 1)
}

func TestRedisSessionStore_SaveRefreshesAccountBinding(t *testing.T) {
	client := newTestRedis(t)
	store := NewRedisSessionStore(client, time.Minute, "test:exchange:"+uuid.NewString()+":")
	ctx := context.Background()
	accountID := uuid.New()

	session, err := store.GetOrCreate(ctx, accountID, "exchange")
	require.NoError(t, err)

	binding := store.accountKey(accountID)
	require.NoError(t, client.Expire(ctx, binding, time.Second).Err())
	require.NoError(t, client.Expire(ctx, store.sessionKey(session.ID), time.Second).Err())
	require.NoError(t, store.Save(ctx, session))

	ttl, err := client.TTL(ctx, binding).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 30*time.Second)

	require.NoError(t, client.Expire(ctx, binding, time.Second).Err())
	again, err := store.GetOrCreate(ctx, accountID, "exchange")
	require.NoError(t, err)
	assert.Equal(t, session.ID, again.ID)
	ttl, err = client.TTL(ctx, binding).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 30*time.Second)
}
