package persistence

import (
	"context"
	"strings"

	"github.com/erp/exchange/internal/domain/identity"
	"github.com/erp/exchange/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormAccountRepository implements AccountRepository using GORM
type GormAccountRepository struct {
	db *gorm.DB
}

// NewGormAccountRepository creates a new GormAccountRepository
func NewGormAccountRepository(db *gorm.DB) *GormAccountRepository {
	return &GormAccountRepository{db: db}
}

// FindByID finds an account by its ID
func (r *GormAccountRepository) FindByID(ctx context.Context, id uuid.UUID) (*identity.Account, error) {
	return r.findOne(ctx, "id = ?", id)
}

// FindByIDs loads several accounts at once, keyed by ID. Missing IDs are skipped.
func (r *GormAccountRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*identity.Account, error) {
	result := make(map[uuid.UUID]*identity.Account, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var rows []models.AccountModel
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		result[rows[i].ID] = rows[i].ToDomain()
	}
	return result, nil
}

// FindByUsername finds an account by username
func (r *GormAccountRepository) FindByUsername(ctx context.Context, username string) (*identity.Account, error) {
	return r.findOne(ctx, "username = ?", strings.TrimSpace(username))
}

// FindByEmail finds an account by email, ignoring case
func (r *GormAccountRepository) FindByEmail(ctx context.Context, email string) (*identity.Account, error) {
	return r.findOne(ctx, "LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email)))
}

// FindByExternalID finds an account linked to a 1C contragent
func (r *GormAccountRepository) FindByExternalID(ctx context.Context, externalID string) (*identity.Account, error) {
	return r.findOne(ctx, "external_id = ?", externalID)
}

func (r *GormAccountRepository) findOne(ctx context.Context, query string, args ...any) (*identity.Account, error) {
	var model models.AccountModel
	if err := r.db.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain(), nil
}

// Save creates or updates an account
func (r *GormAccountRepository) Save(ctx context.Context, account *identity.Account) error {
	model := models.AccountModelFromDomain(account)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return translateError(err)
	}
	account.UpdatedAt = model.UpdatedAt
	return nil
}

var _ identity.AccountRepository = (*GormAccountRepository)(nil)
