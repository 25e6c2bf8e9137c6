package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/erp/exchange/internal/domain/exchange"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultSessionKeyPrefix = "exchange:session:"

// RedisSessionStore keeps exchange sessions in Redis so every instance behind
// the load balancer sees the same session ids
type RedisSessionStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisSessionStore creates a store with an existing Redis client
func NewRedisSessionStore(client *redis.Client, ttl time.Duration, keyPrefix string) *RedisSessionStore {
	if keyPrefix == "" {
		keyPrefix = defaultSessionKeyPrefix
	}
	return &RedisSessionStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (s *RedisSessionStore) sessionKey(id string) string {
	return s.keyPrefix + id
}

func (s *RedisSessionStore) accountKey(accountID uuid.UUID) string {
	return s.keyPrefix + "account:" + accountID.String()
}

// GetOrCreate returns the account's live session. Concurrent callers for the
// same account agree on one id through SETNX on the account key.
func (s *RedisSessionStore) GetOrCreate(ctx context.Context, accountID uuid.UUID, username string) (*exchange.ServerSession, error) {
	if session, err := s.byAccount(ctx, accountID); err == nil {
		if err := s.touch(ctx, session); err != nil {
			return nil, err
		}
		return session, nil
	} else if !errors.Is(err, exchange.ErrServerSessionNotFound) {
		return nil, err
	}

	session := exchange.NewServerSession(accountID, username)
	if err := s.Save(ctx, session); err != nil {
		return nil, err
	}
	won, err := s.client.SetNX(ctx, s.accountKey(accountID), session.ID, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to bind exchange session: %w", err)
	}
	if !won {
		_ = s.client.Del(ctx, s.sessionKey(session.ID)).Err()
		return s.byAccount(ctx, accountID)
	}
	return session, nil
}

func (s *RedisSessionStore) byAccount(ctx context.Context, accountID uuid.UUID) (*exchange.ServerSession, error) {
	id, err := s.client.Get(ctx, s.accountKey(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, exchange.ErrServerSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read exchange session binding: %w", err)
	}
	session, err := s.Get(ctx, id)
	if errors.Is(err, exchange.ErrServerSessionNotFound) {
		_ = s.client.Del(ctx, s.accountKey(accountID)).Err()
	}
	return session, err
}

// Get loads a session by id
func (s *RedisSessionStore) Get(ctx context.Context, id string) (*exchange.ServerSession, error) {
	if id == "" {
		return nil, exchange.ErrServerSessionNotFound
	}
	raw, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, exchange.ErrServerSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read exchange session: %w", err)
	}
	var session exchange.ServerSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("failed to decode exchange session: %w", err)
	}
	return &session, nil
}

// Save writes the session and refreshes the TTL of both the session and
// its account binding
func (s *RedisSessionStore) Save(ctx context.Context, session *exchange.ServerSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode exchange session: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(session.ID), raw, s.ttl)
		pipe.Expire(ctx, s.accountKey(session.AccountID), s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write exchange session: %w", err)
	}
	return nil
}

// touch extends both keys of a live session
func (s *RedisSessionStore) touch(ctx context.Context, session *exchange.ServerSession) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Expire(ctx, s.sessionKey(session.ID), s.ttl)
		pipe.Expire(ctx, s.accountKey(session.AccountID), s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to refresh exchange session: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}

var _ exchange.ServerSessionStore = (*RedisSessionStore)(nil)
