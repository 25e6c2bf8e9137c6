package persistence

import (
	"context"

	appexchange "github.com/erp/exchange/internal/application/exchange"
	"github.com/erp/exchange/internal/domain/catalog"
	"github.com/erp/exchange/internal/domain/exchange"
	"github.com/erp/exchange/internal/domain/identity"
	"github.com/erp/exchange/internal/domain/trade"
	"gorm.io/gorm"
)

// GormTransactionScope implements TransactionScope using GORM transactions.
type GormTransactionScope struct {
	db *gorm.DB
}

// NewGormTransactionScope creates a new GormTransactionScope.
func NewGormTransactionScope(db *gorm.DB) *GormTransactionScope {
	return &GormTransactionScope{db: db}
}

// Execute runs the given function within a database transaction.
// If the function returns an error, the transaction is rolled back.
func (s *GormTransactionScope) Execute(ctx context.Context, fn func(repos appexchange.Repositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}

// GormRepositories hands out repositories bound to one *gorm.DB, which may be a transaction.
type GormRepositories struct {
	db *gorm.DB
}

// NewRepositories creates repositories bound to db
func NewRepositories(db *gorm.DB) *GormRepositories {
	return &GormRepositories{db: db}
}

// Sessions returns the import session repository
func (r *GormRepositories) Sessions() exchange.ImportSessionRepository {
	return NewGormImportSessionRepository(r.db)
}

// Categories returns the category repository
func (r *GormRepositories) Categories() catalog.CategoryRepository {
	return NewGormCategoryRepository(r.db)
}

// PriceTypes returns the price type repository
func (r *GormRepositories) PriceTypes() catalog.PriceTypeRepository {
	return NewGormPriceTypeRepository(r.db)
}

// Brands returns the brand repository
func (r *GormRepositories) Brands() catalog.BrandRepository {
	return NewGormBrandRepository(r.db)
}

// BrandMappings returns the brand mapping repository
func (r *GormRepositories) BrandMappings() catalog.BrandMappingRepository {
	return NewGormBrandMappingRepository(r.db)
}

// Products returns the product repository
func (r *GormRepositories) Products() catalog.ProductRepository {
	return NewGormProductRepository(r.db)
}

// Accounts returns the account repository
func (r *GormRepositories) Accounts() identity.AccountRepository {
	return NewGormAccountRepository(r.db)
}

// Orders returns the order repository
func (r *GormRepositories) Orders() trade.OrderRepository {
	return NewGormOrderRepository(r.db)
}

var (
	_ appexchange.TransactionScope = (*GormTransactionScope)(nil)
	_ appexchange.Repositories     = (*GormRepositories)(nil)
)
