package persistence

import (
	"context"

	"github.com/erp/exchange/internal/domain/catalog"
	"github.com/erp/exchange/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormProductRepository implements ProductRepository using GORM
type GormProductRepository struct {
	db *gorm.DB
}

// NewGormProductRepository creates a new GormProductRepository
func NewGormProductRepository(db *gorm.DB) *GormProductRepository {
	return &GormProductRepository{db: db}
}

// FindByID finds a product by its ID
func (r *GormProductRepository) FindByID(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
	var model models.ProductModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain(), nil
}

// FindPlaceholder returns the row of a group that has no SKU bound yet
func (r *GormProductRepository) FindPlaceholder(ctx context.Context, groupID string) (*catalog.Product, error) {
	var model models.ProductModel
	if err := r.db.WithContext(ctx).
		Where("parent_external_id = ? AND sku_external_id IS NULL", groupID).
		Order("created_at ASC").
		First(&model).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain(), nil
}

// FindBySKUExternalID finds the variant row for a full offer id
func (r *GormProductRepository) FindBySKUExternalID(ctx context.Context, skuID string) (*catalog.Product, error) {
	var model models.ProductModel
	if err := r.db.WithContext(ctx).First(&model, "sku_external_id = ?", skuID).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain(), nil
}

// FindByParentExternalID returns every row of a product group
func (r *GormProductRepository) FindByParentExternalID(ctx context.Context, groupID string) ([]catalog.Product, error) {
	var rows []models.ProductModel
	if err := r.db.WithContext(ctx).
		Where("parent_external_id = ?", groupID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	products := make([]catalog.Product, len(rows))
	for i := range rows {
		products[i] = *rows[i].ToDomain()
	}
	return products, nil
}

// Save creates or updates a product
func (r *GormProductRepository) Save(ctx context.Context, product *catalog.Product) error {
	model := models.ProductModelFromDomain(product)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return translateError(err)
	}
	product.UpdatedAt = model.UpdatedAt
	return nil
}

// Count returns the number of product rows
func (r *GormProductRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ProductModel{}).Count(&count).Error
	return count, err
}

// CountWithoutBrand counts SKU-bound products that have no brand
func (r *GormProductRepository) CountWithoutBrand(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ProductModel{}).
		Where("sku_external_id IS NOT NULL AND brand_id IS NULL").
		Count(&count).Error
	return count, err
}

var _ catalog.ProductRepository = (*GormProductRepository)(nil)
