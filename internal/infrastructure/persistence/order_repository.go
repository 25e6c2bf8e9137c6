package persistence

import (
	"context"
	"time"

	"github.com/erp/exchange/internal/domain/trade"
	"github.com/erp/exchange/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormOrderRepository implements OrderRepository using GORM
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository creates a new GormOrderRepository
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// FindByID finds an order with its items
func (r *GormOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*trade.Order, error) {
	var model models.OrderModel
	if err := r.db.WithContext(ctx).Preload("Items").First(&model, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain(), nil
}

// FindByNumber finds an order by its public number
func (r *GormOrderRepository) FindByNumber(ctx context.Context, number string) (*trade.Order, error) {
	var model models.OrderModel
	if err := r.db.WithContext(ctx).Preload("Items").First(&model, "number = ?", number).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain(), nil
}

// FindPendingExport returns orders never exported or changed since their last export, oldest first
func (r *GormOrderRepository) FindPendingExport(ctx context.Context, offset, limit int) ([]trade.Order, error) {
	var rows []models.OrderModel
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("exported_at IS NULL OR updated_at > exported_at").
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	orders := make([]trade.Order, len(rows))
	for i := range rows {
		orders[i] = *rows[i].ToDomain()
	}
	return orders, nil
}

// Save creates or updates an order together with its items
func (r *GormOrderRepository) Save(ctx context.Context, order *trade.Order) error {
	model := models.OrderModelFromDomain(order)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Save(model).Error; err != nil {
			return translateError(err)
		}

		// Delete items that are no longer on the order
		itemIDs := make([]uuid.UUID, len(model.Items))
		for i, item := range model.Items {
			itemIDs[i] = item.ID
		}
		remove := tx.Where("order_id = ?", model.ID)
		if len(itemIDs) > 0 {
			remove = remove.Where("id NOT IN ?", itemIDs)
		}
		if err := remove.Delete(&models.OrderItemModel{}).Error; err != nil {
			return err
		}

		for i := range model.Items {
			if err := tx.Save(&model.Items[i]).Error; err != nil {
				return translateError(err)
			}
		}

		order.UpdatedAt = model.UpdatedAt
		return nil
	})
}

// MarkExported stamps the export time without touching updated_at
func (r *GormOrderRepository) MarkExported(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.OrderModel{}).
		Where("id IN ?", ids).
		UpdateColumn("exported_at", at).Error
}

var _ trade.OrderRepository = (*GormOrderRepository)(nil)
