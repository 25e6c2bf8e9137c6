package catalog

import (
	"context"

	"github.com/google/uuid"
)

// ProductRepository persists products
type ProductRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Product, error)
	// FindPlaceholder returns the row of a group not yet bound to a SKU
	FindPlaceholder(ctx context.Context, groupID string) (*Product, error)
	FindBySKUExternalID(ctx context.Context, skuID string) (*Product, error)
	FindByParentExternalID(ctx context.Context, groupID string) ([]Product, error)
	Save(ctx context.Context, product *Product) error
	Count(ctx context.Context) (int64, error)
	// CountWithoutBrand counts SKU-bound products that have no brand
	CountWithoutBrand(ctx context.Context) (int64, error)
}
