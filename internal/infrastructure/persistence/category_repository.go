package persistence

import (
	"context"

	"github.com/erp/exchange/internal/domain/catalog"
	"github.com/erp/exchange/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormCategoryRepository implements CategoryRepository using GORM
type GormCategoryRepository struct {
	db *gorm.DB
}

// NewGormCategoryRepository creates a new GormCategoryRepository
func NewGormCategoryRepository(db *gorm.DB) *GormCategoryRepository {
	return &GormCategoryRepository{db: db}
}

// FindByExternalID finds a category by its 1C group id
func (r *GormCategoryRepository) FindByExternalID(ctx context.Context, externalID string) (*catalog.Category, error) {
	var model models.CategoryModel
	if err := r.db.WithContext(ctx).First(&model, "external_id = ?", externalID).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain(), nil
}

// FindAll returns every category
func (r *GormCategoryRepository) FindAll(ctx context.Context) ([]catalog.Category, error) {
	var rows []models.CategoryModel
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	categories := make([]catalog.Category, len(rows))
	for i := range rows {
		categories[i] = *rows[i].ToDomain()
	}
	return categories, nil
}

// Save creates or updates a category
func (r *GormCategoryRepository) Save(ctx context.Context, category *catalog.Category) error {
	model := models.CategoryModelFromDomain(category)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return translateError(err)
	}
	category.UpdatedAt = model.UpdatedAt
	return nil
}

var _ catalog.CategoryRepository = (*GormCategoryRepository)(nil)
