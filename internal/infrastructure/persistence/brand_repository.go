package persistence

import (
	"context"

	"github.com/erp/exchange/internal/domain/catalog"
	"github.com/erp/exchange/internal/domain/shared"
	"github.com/erp/exchange/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormBrandRepository implements BrandRepository using GORM
type GormBrandRepository struct {
	db *gorm.DB
}

// NewGormBrandRepository creates a new GormBrandRepository
func NewGormBrandRepository(db *gorm.DB) *GormBrandRepository {
	return &GormBrandRepository{db: db}
}

// FindByID finds a brand by its ID
func (r *GormBrandRepository) FindByID(ctx context.Context, id uuid.UUID) (*catalog.Brand, error) {
	return r.findOne(ctx, "id = ?", id)
}

// FindByNormalizedName finds a brand by its dedup key
func (r *GormBrandRepository) FindByNormalizedName(ctx context.Context, normalized string) (*catalog.Brand, error) {
	return r.findOne(ctx, "normalized_name = ?", normalized)
}

// FindFallback returns the "No Brand" record
func (r *GormBrandRepository) FindFallback(ctx context.Context) (*catalog.Brand, error) {
	return r.findOne(ctx, "is_fallback = ?", true)
}

func (r *GormBrandRepository) findOne(ctx context.Context, query string, args ...any) (*catalog.Brand, error) {
	var model models.BrandModel
	if err := r.db.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain(), nil
}

// SlugExists reports whether a slug is taken
func (r *GormBrandRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.BrandModel{}).
		Where("slug = ?", slug).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Save creates or updates a brand
func (r *GormBrandRepository) Save(ctx context.Context, brand *catalog.Brand) error {
	model := models.BrandModelFromDomain(brand)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return translateError(err)
	}
	brand.UpdatedAt = model.UpdatedAt
	return nil
}

// Count returns the number of brands
func (r *GormBrandRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.BrandModel{}).Count(&count).Error
	return count, err
}

// GormBrandMappingRepository implements BrandMappingRepository using GORM
type GormBrandMappingRepository struct {
	db *gorm.DB
}

// NewGormBrandMappingRepository creates a new GormBrandMappingRepository
func NewGormBrandMappingRepository(db *gorm.DB) *GormBrandMappingRepository {
	return &GormBrandMappingRepository{db: db}
}

// FindByExternalID finds a mapping by the 1C brand id
func (r *GormBrandMappingRepository) FindByExternalID(ctx context.Context, externalID string) (*catalog.BrandMapping, error) {
	var model models.BrandMappingModel
	if err := r.db.WithContext(ctx).First(&model, "external_id = ?", externalID).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain(), nil
}

// Save creates or updates a mapping
func (r *GormBrandMappingRepository) Save(ctx context.Context, mapping *catalog.BrandMapping) error {
	if mapping.ExternalID == "" {
		return shared.NewDomainError("INVALID_INPUT", "brand mapping requires an external id")
	}
	model := models.BrandMappingModelFromDomain(mapping)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return translateError(err)
	}
	mapping.UpdatedAt = model.UpdatedAt
	return nil
}

// Count returns the number of mappings
func (r *GormBrandMappingRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.BrandMappingModel{}).Count(&count).Error
	return count, err
}

var (
	_ catalog.BrandRepository        = (*GormBrandRepository)(nil)
	_ catalog.BrandMappingRepository = (*GormBrandMappingRepository)(nil)
)
