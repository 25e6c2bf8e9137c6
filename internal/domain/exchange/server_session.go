package exchange

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrServerSessionNotFound is returned for unknown or expired session ids
var ErrServerSessionNotFound = errors.New("exchange session not found")

// ServerSession is the protocol session 1C obtains with mode=checkauth and
// presents as a cookie on every later call
type ServerSession struct {
	ID        string    `json:"id"`
	AccountID uuid.UUID `json:"account_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	// ExportedOrderIDs are the orders sent by the last mode=query, waiting for mode=success
	ExportedOrderIDs []uuid.UUID `json:"exported_order_ids,omitempty"`
}

// NewServerSession creates a session with a random 32-hex-digit id
func NewServerSession(accountID uuid.UUID, username string) *ServerSession {
	return &ServerSession{
		ID:        newSessionID(),
		AccountID: accountID,
		Username:  username,
		CreatedAt: time.Now(),
	}
}

func newSessionID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return uuid.NewString()
	}
	return hex.EncodeToString(buf)
}

// RememberExport replaces the pending export batch
func (s *ServerSession) RememberExport(orderIDs []uuid.UUID) {
	s.ExportedOrderIDs = append([]uuid.UUID(nil), orderIDs...)
}

// TakeExport returns the pending export batch and clears it
func (s *ServerSession) TakeExport() []uuid.UUID {
	ids := s.ExportedOrderIDs
	s.ExportedOrderIDs = nil
	return ids
}

// ServerSessionStore keeps exchange sessions, one live session per account
type ServerSessionStore interface {
	// GetOrCreate returns the account's live session, creating it when absent
	GetOrCreate(ctx context.Context, accountID uuid.UUID, username string) (*ServerSession, error)
	// Get returns ErrServerSessionNotFound for unknown or expired ids
	Get(ctx context.Context, id string) (*ServerSession, error)
	Save(ctx context.Context, session *ServerSession) error
}

// ImportLock is a non-blocking, expiring mutual exclusion lock per import type
type ImportLock interface {
	// TryAcquire returns ok=false without waiting when the key is held
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// Release frees the key only if it is still held with token
	Release(ctx context.Context, key, token string) error
}
