package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/exchange/internal/domain/exchange"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "exchange:lock:"

// releaseScript deletes the key only when it still carries our token, so an
// expired holder never frees a lock taken over by someone else
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock implements ImportLock with SET NX PX
type RedisLock struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisLock creates a lock on an existing client
func NewRedisLock(client *redis.Client, keyPrefix string) *RedisLock {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisLock{client: client, keyPrefix: keyPrefix}
}

// TryAcquire sets the key if absent, never waiting
func (l *RedisLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := newToken()
	ok, err := l.client.SetNX(ctx, l.keyPrefix+key, token, ttl).Result()
	if err != nil {
		return "", false, exchange.NewTransientError("LOCK_BACKEND", "failed to acquire import lock", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release deletes the key if token still owns it
func (l *RedisLock) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.keyPrefix + key}, token).Err(); err != nil {
		return fmt.Errorf("failed to release import lock %s: %w", key, err)
	}
	return nil
}

var _ exchange.ImportLock = (*RedisLock)(nil)
