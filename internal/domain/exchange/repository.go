package exchange

import (
	"context"
	"time"

	"github.com/erp/exchange/internal/domain/shared"
	"github.com/google/uuid"
)

// ImportSessionRepository persists import sessions
type ImportSessionRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*ImportSession, error)
	Save(ctx context.Context, session *ImportSession) error
	// ExistsActive reports whether a session of the type is started or in progress
	ExistsActive(ctx context.Context, importType ImportType) (bool, error)
	// FindStale returns active sessions last updated before the cutoff
	FindStale(ctx context.Context, updatedBefore time.Time) ([]ImportSession, error)
	FindPending(ctx context.Context) ([]ImportSession, error)
	List(ctx context.Context, importType ImportType, filter shared.Filter) ([]ImportSession, int64, error)
}
