package exchange

import (
	"context"

	"github.com/erp/exchange/internal/domain/catalog"
	"github.com/erp/exchange/internal/domain/exchange"
	"github.com/erp/exchange/internal/domain/identity"
	"github.com/erp/exchange/internal/domain/trade"
)

// TransactionScope runs a unit of work inside one database transaction.
// Chunk commits of the catalog pipeline go through it.
type TransactionScope interface {
	// Execute runs fn in a transaction; an error rolls everything back.
	Execute(ctx context.Context, fn func(repos Repositories) error) error
}

// Repositories gives access to every repository the exchange touches.
// Inside TransactionScope.Execute they all share the same transaction.
type Repositories interface {
	Sessions() exchange.ImportSessionRepository
	Categories() catalog.CategoryRepository
	PriceTypes() catalog.PriceTypeRepository
	Brands() catalog.BrandRepository
	BrandMappings() catalog.BrandMappingRepository
	Products() catalog.ProductRepository
	Accounts() identity.AccountRepository
	Orders() trade.OrderRepository
}
