package persistence

import (
	"context"
	"time"

	"github.com/erp/exchange/internal/domain/exchange"
	"github.com/erp/exchange/internal/domain/shared"
	"github.com/erp/exchange/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormImportSessionRepository implements ImportSessionRepository using GORM
type GormImportSessionRepository struct {
	db *gorm.DB
}

// NewGormImportSessionRepository creates a new GormImportSessionRepository
func NewGormImportSessionRepository(db *gorm.DB) *GormImportSessionRepository {
	return &GormImportSessionRepository{db: db}
}

// FindByID finds an import session by its ID
func (r *GormImportSessionRepository) FindByID(ctx context.Context, id uuid.UUID) (*exchange.ImportSession, error) {
	var model models.ImportSessionModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain(), nil
}

// Save creates or updates an import session
func (r *GormImportSessionRepository) Save(ctx context.Context, session *exchange.ImportSession) error {
	model := models.ImportSessionModelFromDomain(session)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return translateError(err)
	}
	session.CreatedAt = model.CreatedAt
	session.UpdatedAt = model.UpdatedAt
	return nil
}

// ExistsActive reports whether a started or in-progress session of the type exists
func (r *GormImportSessionRepository) ExistsActive(ctx context.Context, importType exchange.ImportType) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.ImportSessionModel{}).
		Where("import_type = ? AND status IN ?", importType, exchange.ActiveStatuses).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// FindStale returns active sessions whose last update is older than the cutoff
func (r *GormImportSessionRepository) FindStale(ctx context.Context, updatedBefore time.Time) ([]exchange.ImportSession, error) {
	var rows []models.ImportSessionModel
	if err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", exchange.ActiveStatuses, updatedBefore).
		Order("updated_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return importSessionsToDomain(rows), nil
}

// FindPending returns sessions that were queued but never picked up, oldest first
func (r *GormImportSessionRepository) FindPending(ctx context.Context) ([]exchange.ImportSession, error) {
	var rows []models.ImportSessionModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", exchange.SessionStatusPending).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return importSessionsToDomain(rows), nil
}

// List returns a page of sessions, optionally restricted to one import type
func (r *GormImportSessionRepository) List(ctx context.Context, importType exchange.ImportType, filter shared.Filter) ([]exchange.ImportSession, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.ImportSessionModel{})
	if importType != "" {
		query = query.Where("import_type = ?", importType)
	}
	if status, ok := filter.Filters["status"].(string); ok && status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.ImportSessionModel
	if err := query.
		Order(orderClause(filter.OrderBy, filter.OrderDir, importSessionSortFields, "created_at")).
		Offset(filter.Offset()).
		Limit(filter.Limit()).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return importSessionsToDomain(rows), total, nil
}

func importSessionsToDomain(rows []models.ImportSessionModel) []exchange.ImportSession {
	sessions := make([]exchange.ImportSession, len(rows))
	for i := range rows {
		sessions[i] = *rows[i].ToDomain()
	}
	return sessions
}

var _ exchange.ImportSessionRepository = (*GormImportSessionRepository)(nil)
