package trade

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OrderRepository persists orders
type OrderRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Order, error)
	FindByNumber(ctx context.Context, number string) (*Order, error)
	// FindPendingExport returns orders never exported or changed since their last export, oldest first
	FindPendingExport(ctx context.Context, offset, limit int) ([]Order, error)
	Save(ctx context.Context, order *Order) error
	MarkExported(ctx context.Context, ids []uuid.UUID, at time.Time) error
}
