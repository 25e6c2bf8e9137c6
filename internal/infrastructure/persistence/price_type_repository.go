package persistence

import (
	"context"

	"github.com/erp/exchange/internal/domain/catalog"
	"github.com/erp/exchange/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormPriceTypeRepository implements PriceTypeRepository using GORM
type GormPriceTypeRepository struct {
	db *gorm.DB
}

// NewGormPriceTypeRepository creates a new GormPriceTypeRepository
func NewGormPriceTypeRepository(db *gorm.DB) *GormPriceTypeRepository {
	return &GormPriceTypeRepository{db: db}
}

// FindByExternalID finds a price type by its 1C id
func (r *GormPriceTypeRepository) FindByExternalID(ctx context.Context, externalID string) (*catalog.PriceType, error) {
	var model models.PriceTypeModel
	if err := r.db.WithContext(ctx).First(&model, "external_id = ?", externalID).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain(), nil
}

// FindAll returns every known price type
func (r *GormPriceTypeRepository) FindAll(ctx context.Context) ([]catalog.PriceType, error) {
	var rows []models.PriceTypeModel
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	types := make([]catalog.PriceType, len(rows))
	for i := range rows {
		types[i] = *rows[i].ToDomain()
	}
	return types, nil
}

// Save creates or updates a price type
func (r *GormPriceTypeRepository) Save(ctx context.Context, priceType *catalog.PriceType) error {
	model := models.PriceTypeModelFromDomain(priceType)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return translateError(err)
	}
	priceType.UpdatedAt = model.UpdatedAt
	return nil
}

var _ catalog.PriceTypeRepository = (*GormPriceTypeRepository)(nil)
