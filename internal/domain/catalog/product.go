package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/erp/exchange/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SyncStatus tracks how far a product got through the exchange pipeline
type SyncStatus string

const (
	SyncStatusPending   SyncStatus = "pending"
	SyncStatusSynced    SyncStatus = "synced"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusError     SyncStatus = "error"
)

// OfferIDSeparator separates the product group id from the SKU id in offer identifiers
const OfferIDSeparator = "#"

// SplitOfferID splits "<group>#<sku>" into its parts. An id without the
// separator names a product whose group and SKU ids are the same.
func SplitOfferID(id string) (groupID, skuID string) {
	id = strings.TrimSpace(id)
	if idx := strings.Index(id, OfferIDSeparator); idx >= 0 {
		return id[:idx], id[idx+len(OfferIDSeparator):]
	}
	return id, id
}

// Product is one sellable row. Rows sharing ParentExternalID are variants of one 1C product group.
type Product struct {
	shared.BaseAggregateRoot
	ParentExternalID string
	SKUExternalID    *string
	ExternalBrandID  string
	BrandID          *uuid.UUID
	CategoryID       *uuid.UUID
	Name             string
	SKU              string
	Description      string
	Specifications   map[string]string
	Images           []string
	Prices           Prices
	StockQuantity    decimal.Decimal
	StockByWarehouse map[string]decimal.Decimal
	SyncStatus       SyncStatus
	IsActive         bool
	LastSyncAt       *time.Time
}

// NewPlaceholder creates the group-level row written before offers are known.
// Placeholders are inactive and zero-priced until enriched.
func NewPlaceholder(groupID, name string) (*Product, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return nil, shared.NewDomainError("INVALID_GROUP_ID", "Product group id cannot be empty")
	}
	return &Product{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		ParentExternalID:  groupID,
		Name:              strings.TrimSpace(name),
		Specifications:    map[string]string{},
		Images:            []string{},
		Prices:            ZeroPrices(),
		StockQuantity:     decimal.Zero,
		StockByWarehouse:  map[string]decimal.Decimal{},
		SyncStatus:        SyncStatusPending,
		IsActive:          false,
	}, nil
}

// GroupData is the group-level payload from the goods feed
type GroupData struct {
	Name            string
	Article         string
	Description     string
	CategoryID      *uuid.UUID
	ExternalBrandID string
	Images          []string
}

// ApplyGroupData updates group-level fields. An empty external brand id
// never replaces a stored one.
func (p *Product) ApplyGroupData(data GroupData) {
	if data.Name != "" {
		p.Name = data.Name
	}
	if data.Article != "" {
		p.SKU = data.Article
	}
	if data.Description != "" {
		p.Description = data.Description
	}
	if data.CategoryID != nil {
		p.CategoryID = data.CategoryID
	}
	if data.ExternalBrandID != "" {
		p.ExternalBrandID = data.ExternalBrandID
	}
	if len(data.Images) > 0 {
		p.Images = append([]string(nil), data.Images...)
	}
	p.touch()
}

// AssignBrand links the product to a resolved brand
func (p *Product) AssignBrand(brandID uuid.UUID) {
	p.BrandID = &brandID
	p.touch()
}

// IsPlaceholder reports whether the row has not been bound to a SKU yet
func (p *Product) IsPlaceholder() bool {
	return p.SKUExternalID == nil
}

// OfferData is the SKU-level payload from the offers feed
type OfferData struct {
	SKUExternalID  string
	Name           string
	Article        string
	Specifications map[string]string
}

// Enrich binds the row to a SKU and activates it
func (p *Product) Enrich(data OfferData) error {
	if strings.TrimSpace(data.SKUExternalID) == "" {
		return shared.NewDomainError("INVALID_SKU_ID", "SKU id cannot be empty")
	}
	if p.SKUExternalID != nil && *p.SKUExternalID != data.SKUExternalID {
		return shared.NewDomainError("SKU_MISMATCH",
			fmt.Sprintf("Product %s is bound to SKU %s, not %s", p.ID, *p.SKUExternalID, data.SKUExternalID))
	}
	sku := data.SKUExternalID
	p.SKUExternalID = &sku
	if data.Name != "" {
		p.Name = data.Name
	}
	if data.Article != "" {
		p.SKU = data.Article
	}
	if len(data.Specifications) > 0 {
		specs := make(map[string]string, len(data.Specifications))
		for k, v := range data.Specifications {
			specs[k] = v
		}
		p.Specifications = specs
	}
	p.IsActive = true
	if p.SyncStatus == SyncStatusPending {
		p.SyncStatus = SyncStatusSynced
	}
	p.touch()
	return nil
}

// NewVariant creates a sibling row for another SKU of the same group, copying group-level fields
func (p *Product) NewVariant(data OfferData) (*Product, error) {
	v, err := NewPlaceholder(p.ParentExternalID, p.Name)
	if err != nil {
		return nil, err
	}
	v.ExternalBrandID = p.ExternalBrandID
	v.BrandID = p.BrandID
	v.CategoryID = p.CategoryID
	v.SKU = p.SKU
	v.Description = p.Description
	v.Images = append([]string(nil), p.Images...)
	if err := v.Enrich(data); err != nil {
		return nil, err
	}
	return v, nil
}

// SetPrice writes one price field
func (p *Product) SetPrice(field PriceField, value decimal.Decimal) error {
	if value.IsNegative() {
		return shared.NewDomainError("INVALID_PRICE", fmt.Sprintf("Price for %s cannot be negative", field))
	}
	if err := p.Prices.Set(field, value); err != nil {
		return err
	}
	p.touch()
	return nil
}

// ApplyFederationFallback copies the recommended retail price into the
// federation price when the feed carried no federation line.
func (p *Product) ApplyFederationFallback() {
	p.Prices.Federation = p.Prices.RecommendedRetail
	p.touch()
}

// UpdateStock overwrites the per-warehouse stock and marks the product fully synced
func (p *Product) UpdateStock(byWarehouse map[string]decimal.Decimal, at time.Time) {
	total := decimal.Zero
	stock := make(map[string]decimal.Decimal, len(byWarehouse))
	for wh, qty := range byWarehouse {
		stock[wh] = qty
		total = total.Add(qty)
	}
	p.StockByWarehouse = stock
	p.StockQuantity = total
	p.SyncStatus = SyncStatusCompleted
	p.LastSyncAt = &at
	p.touch()
}

// AddImage appends an image path if it is not already present
func (p *Product) AddImage(path string) bool {
	for _, existing := range p.Images {
		if existing == path {
			return false
		}
	}
	p.Images = append(p.Images, path)
	p.touch()
	return true
}

func (p *Product) touch() {
	p.Touch()
}
