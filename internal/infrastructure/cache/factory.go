package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/exchange/internal/domain/exchange"
	"github.com/erp/exchange/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrRedisNotConfigured is returned by Connect when no Redis host is set
var ErrRedisNotConfigured = errors.New("redis host is not configured")

// Connect opens a Redis client and pings it. The client is shared by the
// session store and the import lock.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled() {
		return nil, ErrRedisNotConfigured
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// SessionStoreFactory creates exchange session stores based on configuration
type SessionStoreFactory struct {
	client                *redis.Client
	ttl                   time.Duration
	keyPrefix             string
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// SessionStoreFactoryOption is a functional option for configuring the factory
type SessionStoreFactoryOption func(*SessionStoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) SessionStoreFactoryOption {
	return func(f *SessionStoreFactory) {
		f.logger = logger
	}
}

// WithRedisClient makes the factory build the shared Redis store
func WithRedisClient(client *redis.Client) SessionStoreFactoryOption {
	return func(f *SessionStoreFactory) {
		f.client = client
	}
}

// WithKeyPrefix overrides the Redis key prefix
func WithKeyPrefix(prefix string) SessionStoreFactoryOption {
	return func(f *SessionStoreFactory) {
		f.keyPrefix = prefix
	}
}

// WithInMemoryFallback controls whether a missing Redis client yields the
// in-memory store. Default is true.
func WithInMemoryFallback(allow bool) SessionStoreFactoryOption {
	return func(f *SessionStoreFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewSessionStoreFactory creates a new factory
func NewSessionStoreFactory(ttl time.Duration, opts ...SessionStoreFactoryOption) *SessionStoreFactory {
	f := &SessionStoreFactory{
		ttl:                   ttl,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateStore returns the Redis store when a client was given, the in-memory
// store otherwise. The in-memory store does not share sessions across instances.
func (f *SessionStoreFactory) CreateStore() (exchange.ServerSessionStore, error) {
	if f.client != nil {
		f.logger.Info("using Redis exchange session store")
		return NewRedisSessionStore(f.client, f.ttl, f.keyPrefix), nil
	}
	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis required for exchange sessions: %w", ErrRedisNotConfigured)
	}
	f.logger.Warn("Redis unavailable, using in-memory exchange session store. " +
		"Sessions will not be shared between instances.")
	return NewInMemorySessionStore(f.ttl), nil
}
