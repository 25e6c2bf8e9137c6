package lock

import (
	"context"
	"sync"
	"time"

	"github.com/erp/exchange/internal/domain/exchange"
)

type held struct {
	token     string
	expiresAt time.Time
}

// MemoryLock implements ImportLock inside one process
type MemoryLock struct {
	mu        sync.Mutex
	keyPrefix string
	held      map[string]held
	now       func() time.Time
}

// NewMemoryLock creates an in-process lock
func NewMemoryLock(keyPrefix string) *MemoryLock {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &MemoryLock{keyPrefix: keyPrefix, held: make(map[string]held), now: time.Now}
}

// TryAcquire takes the key if it is free or its holder expired
func (l *MemoryLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := l.keyPrefix + key
	if h, ok := l.held[k]; ok && l.now().Before(h.expiresAt) {
		return "", false, nil
	}
	token := newToken()
	l.held[k] = held{token: token, expiresAt: l.now().Add(ttl)}
	return token, true, nil
}

// Release frees the key if token still owns it
func (l *MemoryLock) Release(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := l.keyPrefix + key
	if h, ok := l.held[k]; ok && h.token == token {
		delete(l.held, k)
	}
	return nil
}

var _ exchange.ImportLock = (*MemoryLock)(nil)
