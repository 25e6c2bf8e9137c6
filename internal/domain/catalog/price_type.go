package catalog

import (
	"context"
	"strings"

	"github.com/erp/exchange/internal/domain/shared"
)

// PriceType is a 1C price column definition
type PriceType struct {
	shared.BaseEntity
	ExternalID string
	Name       string
	Currency   string
	Field      PriceField
}

// NewPriceType creates a price type and derives its target product field from the name
func NewPriceType(externalID, name, currency string) (*PriceType, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, shared.NewDomainError("INVALID_PRICE_TYPE_ID", "Price type id cannot be empty")
	}
	return &PriceType{
		BaseEntity: shared.NewBaseEntity(),
		ExternalID: strings.TrimSpace(externalID),
		Name:       strings.TrimSpace(name),
		Currency:   strings.TrimSpace(currency),
		Field:      PriceFieldForName(name),
	}, nil
}

// Rename updates the name and re-derives the target field
func (t *PriceType) Rename(name, currency string) {
	t.Name = strings.TrimSpace(name)
	if currency != "" {
		t.Currency = strings.TrimSpace(currency)
	}
	t.Field = PriceFieldForName(name)
}

// PriceTypeRepository persists price types
type PriceTypeRepository interface {
	FindByExternalID(ctx context.Context, externalID string) (*PriceType, error)
	FindAll(ctx context.Context) ([]PriceType, error)
	Save(ctx context.Context, priceType *PriceType) error
}

// PriceTypeTable resolves price-type ids to product fields
type PriceTypeTable map[string]PriceType

// FieldFor returns the field for a price-type id
func (t PriceTypeTable) FieldFor(externalID string) (PriceField, bool) {
	pt, ok := t[externalID]
	if !ok {
		return "", false
	}
	return pt.Field, true
}
