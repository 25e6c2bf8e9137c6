package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/exchange/internal/domain/exchange"
	"github.com/erp/exchange/internal/domain/identity"
	"github.com/erp/exchange/internal/domain/shared"
	"github.com/erp/exchange/internal/infrastructure/commerceml"
	"go.uber.org/zap"
)

// CustomerProcessor imports 1C contragents into accounts. Contragents are
// matched by external id first, then by e-mail.
type CustomerProcessor struct {
	parser    *commerceml.Parser
	scope     TransactionScope
	chunkSize int
	logger    *zap.Logger
}

// NewCustomerProcessor creates a customer processor
func NewCustomerProcessor(parser *commerceml.Parser, scope TransactionScope, chunkSize int, logger *zap.Logger) *CustomerProcessor {
	return &CustomerProcessor{parser: parser, scope: scope, chunkSize: chunkSize, logger: logger}
}

// Phases plans a customers run
func (p *CustomerProcessor) Phases(ctx context.Context, run Run) ([]Phase, error) {
	if run.ImportType != exchange.ImportTypeCustomers {
		return nil, fmt.Errorf("customer processor cannot run %s imports", run.ImportType)
	}
	return []Phase{{Name: "customers", Run: p.run}}, nil
}

func (p *CustomerProcessor) run(ctx context.Context, run Run) (exchange.ImportStats, error) {
	return streamFeed(ctx, run, p.scope, p.chunkSize, p.logger, commerceml.FeedContragents, p.parser.ParseContragents,
		func(ctx context.Context, repos Repositories, c commerceml.Contragent) (exchange.ImportStats, error) {
			return p.apply(ctx, repos.Accounts(), c)
		})
}

func (p *CustomerProcessor) apply(ctx context.Context, accounts identity.AccountRepository, c commerceml.Contragent) (exchange.ImportStats, error) {
	stats := exchange.NewImportStats()

	account, err := accounts.FindByExternalID(ctx, c.ID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return stats, err
	}
	if account == nil && c.Email() != "" {
		account, err = accounts.FindByEmail(ctx, c.Email())
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return stats, err
		}
		if account != nil {
			account.LinkExternalID(c.ID)
			p.logger.Debug("contragent linked by email",
				zap.String("contragent_id", c.ID),
				zap.String("account_id", account.ID.String()),
			)
		}
	}

	if account == nil {
		account, err = identity.NewImportedAccount(c.ID, c.DisplayName(), c.Email(), c.Phone())
		if err != nil {
			return stats, err
		}
		stats.Inc(exchange.StatCreated, 1)
	} else {
		account.ApplyContragent(c.DisplayName(), c.Phone())
		stats.Inc(exchange.StatUpdated, 1)
	}

	if err := accounts.Save(ctx, account); err != nil {
		return stats, err
	}
	return stats, nil
}
