package exchange

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/erp/exchange/internal/domain/identity"
	"github.com/erp/exchange/internal/domain/trade"
	"github.com/erp/exchange/internal/infrastructure/commerceml"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ExportResult lists the orders written to one export document
type ExportResult struct {
	OrderIDs []uuid.UUID
	Skipped  int
}

// OrderExporter renders orders pending export as a CommerceML orders document
type OrderExporter struct {
	orders   trade.OrderRepository
	accounts identity.AccountRepository
	pageSize int
	salt     string
	logger   *zap.Logger
	now      func() time.Time
}

// NewOrderExporter creates an exporter. salt keys the counterparty ids derived from e-mails.
func NewOrderExporter(orders trade.OrderRepository, accounts identity.AccountRepository, pageSize int, salt string, logger *zap.Logger) *OrderExporter {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &OrderExporter{
		orders:   orders,
		accounts: accounts,
		pageSize: pageSize,
		salt:     salt,
		logger:   logger,
		now:      time.Now,
	}
}

// Export streams every order pending export into w, oldest first
func (e *OrderExporter) Export(ctx context.Context, w io.Writer) (*ExportResult, error) {
	result := &ExportResult{OrderIDs: []uuid.UUID{}}
	wr := commerceml.NewWriter(w, e.now())

	for offset := 0; ; offset += e.pageSize {
		page, err := e.orders.FindPendingExport(ctx, offset, e.pageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to load orders for export: %w", err)
		}
		accounts, err := e.accounts.FindByIDs(ctx, accountIDs(page))
		if err != nil {
			return nil, fmt.Errorf("failed to load order accounts: %w", err)
		}
		for i := range page {
			order := &page[i]
			doc, reason := e.document(order, accounts)
			if reason != "" {
				result.Skipped++
				e.logger.Warn("order skipped in export",
					zap.String("order_id", order.ID.String()),
					zap.String("number", order.Number),
					zap.String("reason", reason),
				)
				continue
			}
			if err := wr.WriteDocument(doc); err != nil {
				return nil, err
			}
			result.OrderIDs = append(result.OrderIDs, order.ID)
		}
		if len(page) < e.pageSize {
			break
		}
	}

	if err := wr.Close(); err != nil {
		return nil, err
	}
	e.logger.Info("orders exported", zap.Int("count", len(result.OrderIDs)), zap.Int("skipped", result.Skipped))
	return result, nil
}

func accountIDs(orders []trade.Order) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	ids := make([]uuid.UUID, 0, len(orders))
	for _, o := range orders {
		if o.AccountID != nil && !seen[*o.AccountID] {
			seen[*o.AccountID] = true
			ids = append(ids, *o.AccountID)
		}
	}
	return ids
}

// document builds the export form of an order, or returns why it cannot be exported
func (e *OrderExporter) document(order *trade.Order, accounts map[uuid.UUID]*identity.Account) (commerceml.OrderDocument, string) {
	if len(order.Items) == 0 {
		return commerceml.OrderDocument{}, "no items"
	}
	if order.AccountID == nil {
		return commerceml.OrderDocument{}, "no account"
	}
	account, ok := accounts[*order.AccountID]
	if !ok {
		return commerceml.OrderDocument{}, "account not found"
	}

	lines := make([]commerceml.OrderLine, 0, len(order.Items))
	total := decimal.Zero
	for _, item := range order.Items {
		if item.SKUExternalID == "" {
			e.logger.Warn("order item without product sku skipped",
				zap.String("order_id", order.ID.String()),
				zap.String("item_id", item.ID.String()),
			)
			continue
		}
		lines = append(lines, commerceml.OrderLine{
			ID:       item.SKUExternalID,
			Name:     item.Name,
			Price:    item.Price,
			Quantity: item.Quantity,
			Amount:   item.Amount(),
		})
		total = total.Add(item.Amount())
	}
	if len(lines) == 0 {
		return commerceml.OrderDocument{}, "no items with product sku"
	}

	return commerceml.OrderDocument{
		ID:           order.ID.String(),
		Number:       order.Number,
		CreatedAt:    order.CreatedAt,
		Currency:     order.Currency,
		Total:        total,
		Counterparty: e.counterparty(account),
		Comment:      order.Comment,
		Status:       string(order.Status),
		IsPaid:       order.IsPaid,
		PaidAt:       order.PaidAt,
		ShippedAt:    order.ShippedAt,
		Lines:        lines,
	}, ""
}

func (e *OrderExporter) counterparty(a *identity.Account) commerceml.Counterparty {
	name := a.FullName
	if name == "" {
		name = a.Username
	}
	return commerceml.Counterparty{
		ID:       e.CounterpartyID(a),
		Name:     name,
		FullName: a.FullName,
		Email:    a.Email,
		Phone:    a.Phone,
	}
}

// CounterpartyID picks the 1C id of an account: the linked contragent id,
// else a salted e-mail hash, else the account uuid
func (e *OrderExporter) CounterpartyID(a *identity.Account) string {
	if a.ExternalID != nil && *a.ExternalID != "" {
		e.logger.Debug("counterparty id from external id", zap.String("account_id", a.ID.String()))
		return *a.ExternalID
	}
	if a.Email != "" {
		sum := sha256.Sum256([]byte(e.salt + strings.ToLower(a.Email)))
		e.logger.Debug("counterparty id from email hash", zap.String("account_id", a.ID.String()))
		return "email-" + hex.EncodeToString(sum[:])[:32]
	}
	e.logger.Debug("counterparty id from account id", zap.String("account_id", a.ID.String()))
	return "user-" + a.ID.String()
}
