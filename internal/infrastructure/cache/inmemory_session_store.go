package cache

import (
	"context"
	"sync"
	"time"

	"github.com/erp/exchange/internal/domain/exchange"
	"github.com/google/uuid"
)

type sessionEntry struct {
	session   exchange.ServerSession
	expiresAt time.Time
}

// InMemorySessionStore keeps exchange sessions in process memory.
// Suitable for single-instance deployments and testing.
type InMemorySessionStore struct {
	mu        sync.Mutex
	ttl       time.Duration
	sessions  map[string]sessionEntry
	byAccount map[uuid.UUID]string
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	now       func() time.Time
}

// NewInMemorySessionStore creates the store and starts its cleanup goroutine
func NewInMemorySessionStore(ttl time.Duration) *InMemorySessionStore {
	s := &InMemorySessionStore{
		ttl:       ttl,
		sessions:  make(map[string]sessionEntry),
		byAccount: make(map[uuid.UUID]string),
		stopChan:  make(chan struct{}),
		now:       time.Now,
	}
	s.wg.Add(1)
	go s.cleanupLoop()
	return s
}

// GetOrCreate returns the account's live session, creating it when absent
func (s *InMemorySessionStore) GetOrCreate(ctx context.Context, accountID uuid.UUID, username string) (*exchange.ServerSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byAccount[accountID]; ok {
		if e, ok := s.sessions[id]; ok && s.now().Before(e.expiresAt) {
			e.expiresAt = s.now().Add(s.ttl)
			s.sessions[id] = e
			session := e.session
			return &session, nil
		}
		delete(s.byAccount, accountID)
	}

	session := exchange.NewServerSession(accountID, username)
	s.sessions[session.ID] = sessionEntry{session: *session, expiresAt: s.now().Add(s.ttl)}
	s.byAccount[accountID] = session.ID
	return session, nil
}

// Get returns a copy of the session
func (s *InMemorySessionStore) Get(ctx context.Context, id string) (*exchange.ServerSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok || !s.now().Before(e.expiresAt) {
		return nil, exchange.ErrServerSessionNotFound
	}
	session := e.session
	return &session, nil
}

// Save stores the session and refreshes its TTL
func (s *InMemorySessionStore) Save(ctx context.Context, session *exchange.ServerSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.ID] = sessionEntry{session: *session, expiresAt: s.now().Add(s.ttl)}
	return nil
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (s *InMemorySessionStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
	return nil
}

func (s *InMemorySessionStore) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *InMemorySessionStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, e := range s.sessions {
		if !now.Before(e.expiresAt) {
			delete(s.sessions, id)
			if s.byAccount[e.session.AccountID] == id {
				delete(s.byAccount, e.session.AccountID)
			}
		}
	}
}

// Size returns the number of stored sessions
func (s *InMemorySessionStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

var _ exchange.ServerSessionStore = (*InMemorySessionStore)(nil)
