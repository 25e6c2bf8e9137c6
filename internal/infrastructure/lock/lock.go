// Package lock provides the non-blocking import locks used next to the
// database exclusivity check.
package lock

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/erp/exchange/internal/domain/exchange"
	"github.com/erp/exchange/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// New returns a Redis lock when Redis is configured and reachable through
// client, the in-memory lock otherwise
func New(cfg config.LockConfig, client *redis.Client, logger *zap.Logger) exchange.ImportLock {
	if client != nil {
		return NewRedisLock(client, cfg.KeyPrefix)
	}
	logger.Warn("Redis not configured, using in-process import lock. " +
		"Imports are only exclusive within this instance.")
	return NewMemoryLock(cfg.KeyPrefix)
}

func newToken() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
