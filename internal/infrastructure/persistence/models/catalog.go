package models

import (
	"time"

	"github.com/erp/exchange/internal/domain/catalog"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// CategoryModel is the persistence model for classifier groups.
type CategoryModel struct {
	BaseModel
	ExternalID       string     `gorm:"type:varchar(100);not null;uniqueIndex"`
	ParentExternalID string     `gorm:"type:varchar(100);not null;default:''"`
	ParentID         *uuid.UUID `gorm:"type:uuid;index"`
	Name             string     `gorm:"type:varchar(255);not null"`
	Slug             string     `gorm:"type:varchar(255);not null;default:''"`
}

// TableName returns the table name for GORM
func (CategoryModel) TableName() string {
	return "categories"
}

// ToDomain converts the persistence model to a domain Category.
func (m *CategoryModel) ToDomain() *catalog.Category {
	return &catalog.Category{
		BaseEntity:       m.BaseModel.ToDomain(),
		ExternalID:       m.ExternalID,
		ParentExternalID: m.ParentExternalID,
		ParentID:         m.ParentID,
		Name:             m.Name,
		Slug:             m.Slug,
	}
}

// CategoryModelFromDomain creates a persistence model from a domain Category.
func CategoryModelFromDomain(c *catalog.Category) *CategoryModel {
	m := &CategoryModel{
		ExternalID:       c.ExternalID,
		ParentExternalID: c.ParentExternalID,
		ParentID:         c.ParentID,
		Name:             c.Name,
		Slug:             c.Slug,
	}
	m.FromDomainBaseEntity(c.BaseEntity)
	return m
}

// BrandModel is the persistence model for deduplicated brands.
type BrandModel struct {
	AggregateModel
	Name           string `gorm:"type:varchar(255);not null"`
	NormalizedName string `gorm:"type:varchar(255);not null;uniqueIndex"`
	Slug           string `gorm:"type:varchar(255);not null;uniqueIndex"`
	IsFallback     bool   `gorm:"not null;default:false;index"`
}

// TableName returns the table name for GORM
func (BrandModel) TableName() string {
	return "brands"
}

// ToDomain converts the persistence model to a domain Brand.
func (m *BrandModel) ToDomain() *catalog.Brand {
	return &catalog.Brand{
		BaseAggregateRoot: m.ToDomainAggregate(),
		Name:              m.Name,
		NormalizedName:    m.NormalizedName,
		Slug:              m.Slug,
		IsFallback:        m.IsFallback,
	}
}

// BrandModelFromDomain creates a persistence model from a domain Brand.
func BrandModelFromDomain(b *catalog.Brand) *BrandModel {
	m := &BrandModel{
		Name:           b.Name,
		NormalizedName: b.NormalizedName,
		Slug:           b.Slug,
		IsFallback:     b.IsFallback,
	}
	m.FromDomainAggregateRoot(b.BaseAggregateRoot)
	return m
}

// BrandMappingModel links a 1C brand id to a brand.
type BrandMappingModel struct {
	BaseModel
	ExternalID   string    `gorm:"type:varchar(100);not null;uniqueIndex"`
	BrandID      uuid.UUID `gorm:"type:uuid;not null;index"`
	OriginalName string    `gorm:"type:varchar(255);not null;default:''"`
}

// TableName returns the table name for GORM
func (BrandMappingModel) TableName() string {
	return "brand_external_mappings"
}

// ToDomain converts the persistence model to a domain BrandMapping.
func (m *BrandMappingModel) ToDomain() *catalog.BrandMapping {
	return &catalog.BrandMapping{
		BaseEntity:   m.BaseModel.ToDomain(),
		ExternalID:   m.ExternalID,
		BrandID:      m.BrandID,
		OriginalName: m.OriginalName,
	}
}

// BrandMappingModelFromDomain creates a persistence model from a domain BrandMapping.
func BrandMappingModelFromDomain(bm *catalog.BrandMapping) *BrandMappingModel {
	m := &BrandMappingModel{
		ExternalID:   bm.ExternalID,
		BrandID:      bm.BrandID,
		OriginalName: bm.OriginalName,
	}
	m.FromDomainBaseEntity(bm.BaseEntity)
	return m
}

// PriceTypeModel is the persistence model for 1C price types.
type PriceTypeModel struct {
	BaseModel
	ExternalID string             `gorm:"type:varchar(100);not null;uniqueIndex"`
	Name       string             `gorm:"type:varchar(255);not null"`
	Currency   string             `gorm:"type:varchar(10);not null;default:''"`
	Field      catalog.PriceField `gorm:"type:varchar(30);not null"`
}

// TableName returns the table name for GORM
func (PriceTypeModel) TableName() string {
	return "price_types"
}

// ToDomain converts the persistence model to a domain PriceType.
func (m *PriceTypeModel) ToDomain() *catalog.PriceType {
	return &catalog.PriceType{
		BaseEntity: m.BaseModel.ToDomain(),
		ExternalID: m.ExternalID,
		Name:       m.Name,
		Currency:   m.Currency,
		Field:      m.Field,
	}
}

// PriceTypeModelFromDomain creates a persistence model from a domain PriceType.
func PriceTypeModelFromDomain(pt *catalog.PriceType) *PriceTypeModel {
	m := &PriceTypeModel{
		ExternalID: pt.ExternalID,
		Name:       pt.Name,
		Currency:   pt.Currency,
		Field:      pt.Field,
	}
	m.FromDomainBaseEntity(pt.BaseEntity)
	return m
}

// ProductModel is the persistence model for the Product aggregate.
type ProductModel struct {
	AggregateModel
	ParentExternalID       string                                         `gorm:"type:varchar(100);not null;index"`
	SKUExternalID          *string                                        `gorm:"column:sku_external_id;type:varchar(100);uniqueIndex"`
	ExternalBrandID        string                                         `gorm:"type:varchar(100);not null;default:''"`
	BrandID                *uuid.UUID                                     `gorm:"type:uuid;index"`
	CategoryID             *uuid.UUID                                     `gorm:"type:uuid;index"`
	Name                   string                                         `gorm:"type:varchar(500);not null;default:''"`
	SKU                    string                                         `gorm:"column:sku;type:varchar(100);not null;default:''"`
	Description            string                                         `gorm:"type:text;not null;default:''"`
	Specifications         datatypes.JSONType[map[string]string]          `gorm:"not null"`
	Images                 datatypes.JSONSlice[string]                    `gorm:"not null"`
	RetailPrice            decimal.Decimal                                `gorm:"type:decimal(18,2);not null;default:0"`
	Opt1Price              decimal.Decimal                                `gorm:"type:decimal(18,2);not null;default:0"`
	Opt2Price              decimal.Decimal                                `gorm:"type:decimal(18,2);not null;default:0"`
	Opt3Price              decimal.Decimal                                `gorm:"type:decimal(18,2);not null;default:0"`
	TrainerPrice           decimal.Decimal                                `gorm:"type:decimal(18,2);not null;default:0"`
	FederationPrice        decimal.Decimal                                `gorm:"type:decimal(18,2);not null;default:0"`
	RecommendedRetailPrice decimal.Decimal                                `gorm:"type:decimal(18,2);not null;default:0"`
	MaxRetailPrice         decimal.Decimal                                `gorm:"type:decimal(18,2);not null;default:0"`
	StockQuantity          decimal.Decimal                                `gorm:"type:decimal(18,3);not null;default:0"`
	StockByWarehouse       datatypes.JSONType[map[string]decimal.Decimal] `gorm:"not null"`
	SyncStatus             catalog.SyncStatus                             `gorm:"type:varchar(20);not null;index"`
	IsActive               bool                                           `gorm:"not null;default:false;index"`
	LastSyncAt             *time.Time
}

// TableName returns the table name for GORM
func (ProductModel) TableName() string {
	return "products"
}

// ToDomain converts the persistence model to a domain Product.
func (m *ProductModel) ToDomain() *catalog.Product {
	specs := m.Specifications.Data()
	if specs == nil {
		specs = map[string]string{}
	}
	stock := m.StockByWarehouse.Data()
	if stock == nil {
		stock = map[string]decimal.Decimal{}
	}
	images := []string(m.Images)
	if images == nil {
		images = []string{}
	}
	return &catalog.Product{
		BaseAggregateRoot: m.ToDomainAggregate(),
		ParentExternalID:  m.ParentExternalID,
		SKUExternalID:     m.SKUExternalID,
		ExternalBrandID:   m.ExternalBrandID,
		BrandID:           m.BrandID,
		CategoryID:        m.CategoryID,
		Name:              m.Name,
		SKU:               m.SKU,
		Description:       m.Description,
		Specifications:    specs,
		Images:            images,
		Prices: catalog.Prices{
			Retail:            m.RetailPrice,
			Opt1:              m.Opt1Price,
			Opt2:              m.Opt2Price,
			Opt3:              m.Opt3Price,
			Trainer:           m.TrainerPrice,
			Federation:        m.FederationPrice,
			RecommendedRetail: m.RecommendedRetailPrice,
			MaxRetail:         m.MaxRetailPrice,
		},
		StockQuantity:    m.StockQuantity,
		StockByWarehouse: stock,
		SyncStatus:       m.SyncStatus,
		IsActive:         m.IsActive,
		LastSyncAt:       m.LastSyncAt,
	}
}

// ProductModelFromDomain creates a persistence model from a domain Product.
func ProductModelFromDomain(p *catalog.Product) *ProductModel {
	m := &ProductModel{
		ParentExternalID:       p.ParentExternalID,
		SKUExternalID:          p.SKUExternalID,
		ExternalBrandID:        p.ExternalBrandID,
		BrandID:                p.BrandID,
		CategoryID:             p.CategoryID,
		Name:                   p.Name,
		SKU:                    p.SKU,
		Description:            p.Description,
		Specifications:         datatypes.NewJSONType(p.Specifications),
		Images:                 datatypes.JSONSlice[string](p.Images),
		RetailPrice:            p.Prices.Retail,
		Opt1Price:              p.Prices.Opt1,
		Opt2Price:              p.Prices.Opt2,
		Opt3Price:              p.Prices.Opt3,
		TrainerPrice:           p.Prices.Trainer,
		FederationPrice:        p.Prices.Federation,
		RecommendedRetailPrice: p.Prices.RecommendedRetail,
		MaxRetailPrice:         p.Prices.MaxRetail,
		StockQuantity:          p.StockQuantity,
		StockByWarehouse:       datatypes.NewJSONType(p.StockByWarehouse),
		SyncStatus:             p.SyncStatus,
		IsActive:               p.IsActive,
		LastSyncAt:             p.LastSyncAt,
	}
	m.FromDomainAggregateRoot(p.BaseAggregateRoot)
	return m
}
