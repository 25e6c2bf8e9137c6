package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/exchange/internal/domain/shared"
	"github.com/erp/exchange/internal/domain/trade"
	"github.com/erp/exchange/internal/infrastructure/commerceml"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StatusImportResult summarizes one applied orders document
type StatusImportResult struct {
	Applied   int      `json:"applied"`
	Unchanged int      `json:"unchanged"`
	Rejected  int      `json:"rejected"`
	Unmatched []string `json:"unmatched,omitempty"`
	// AmbiguousEmpty lists, per order reference, the fields sent as empty tags
	// whose meaning is undefined; they were left unchanged
	AmbiguousEmpty map[string][]string `json:"ambiguous_empty,omitempty"`
}

func (r *StatusImportResult) flag(ref, field string) {
	if r.AmbiguousEmpty == nil {
		r.AmbiguousEmpty = make(map[string][]string)
	}
	r.AmbiguousEmpty[ref] = append(r.AmbiguousEmpty[ref], field)
}

// OrderStatusImporter applies order updates sent by 1C. Last write wins;
// every decision is logged.
type OrderStatusImporter struct {
	parser    *commerceml.Parser
	orders    trade.OrderRepository
	publisher shared.EventPublisher
	logger    *zap.Logger
}

// NewOrderStatusImporter creates an importer. publisher may be nil.
func NewOrderStatusImporter(parser *commerceml.Parser, orders trade.OrderRepository, publisher shared.EventPublisher, logger *zap.Logger) *OrderStatusImporter {
	return &OrderStatusImporter{parser: parser, orders: orders, publisher: publisher, logger: logger}
}

// ImportFile parses an orders document and applies it
func (s *OrderStatusImporter) ImportFile(ctx context.Context, path string) (*StatusImportResult, error) {
	var updates []trade.OrderUpdateData
	res, err := s.parser.ParseOrders(ctx, path, func(u commerceml.OrderUpdate) error {
		updates = append(updates, ToOrderUpdateData(u))
		return nil
	})
	if err != nil {
		return nil, feedError(err)
	}
	for _, w := range res.Warnings {
		s.logger.Warn("order document skipped", zap.String("record_id", w.RecordID), zap.String("message", w.Message))
	}
	return s.Apply(ctx, updates)
}

// ToOrderUpdateData keeps the absent/empty distinction of every requisite
func ToOrderUpdateData(u commerceml.OrderUpdate) trade.OrderUpdateData {
	field := func(names []string) trade.OptionalString {
		v, ok := u.Field(names)
		return trade.OptionalString{Value: v, Present: ok}
	}
	return trade.OrderUpdateData{
		DocumentID:  u.ID,
		Number:      u.Number,
		Status:      field(commerceml.RequisiteStatus),
		Paid:        field(commerceml.RequisitePaid),
		PaidDate:    field(commerceml.RequisitePaidDate),
		ShippedDate: field(commerceml.RequisiteShippedDate),
	}
}

// Apply applies each update independently
func (s *OrderStatusImporter) Apply(ctx context.Context, updates []trade.OrderUpdateData) (*StatusImportResult, error) {
	result := &StatusImportResult{}
	for _, d := range updates {
		order, err := s.match(ctx, d)
		if errors.Is(err, shared.ErrNotFound) {
			result.Unmatched = append(result.Unmatched, d.Reference())
			s.logger.Warn("order update does not match any order",
				zap.String("document_id", d.DocumentID),
				zap.String("number", d.Number),
			)
			continue
		}
		if err != nil {
			return result, err
		}

		changed, rejected := s.applyOne(order, d, result)
		if rejected {
			result.Rejected++
		}
		if !changed {
			result.Unchanged++
			continue
		}
		if err := s.orders.Save(ctx, order); err != nil {
			return result, fmt.Errorf("failed to save order %s: %w", order.ID, err)
		}
		result.Applied++
		s.publish(ctx, order)
	}
	s.logger.Info("order updates applied",
		zap.Int("applied", result.Applied),
		zap.Int("unchanged", result.Unchanged),
		zap.Int("rejected", result.Rejected),
		zap.Int("unmatched", len(result.Unmatched)),
	)
	return result, nil
}

// match finds the order by document id (the order uuid), then by number
func (s *OrderStatusImporter) match(ctx context.Context, d trade.OrderUpdateData) (*trade.Order, error) {
	if id, err := uuid.Parse(d.DocumentID); err == nil {
		order, err := s.orders.FindByID(ctx, id)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
	}
	if d.Number == "" {
		return nil, shared.ErrNotFound
	}
	return s.orders.FindByNumber(ctx, d.Number)
}

// applyOne mutates the order. Absent fields are untouched. An empty shipped
// date clears it; empty status, paid and paid date tags are flagged and ignored.
func (s *OrderStatusImporter) applyOne(order *trade.Order, d trade.OrderUpdateData, result *StatusImportResult) (changed, rejected bool) {
	ref := d.Reference()
	logger := s.logger.With(zap.String("order_id", order.ID.String()), zap.String("reference", ref))

	if d.Status.Present {
		if trade.IsEmpty(d.Status) {
			result.flag(ref, "status")
		} else if target, ok := trade.ParseOrderStatus(d.Status.Value); !ok {
			rejected = true
			logger.Warn("unknown order status", zap.String("status", d.Status.Value))
		} else {
			from := order.Status
			ok, err := order.ChangeStatus(target)
			switch {
			case err != nil:
				rejected = true
				logger.Warn("order status transition rejected",
					zap.String("from", string(from)),
					zap.String("to", string(target)),
					zap.Error(err),
				)
			case ok:
				changed = true
				logger.Debug("order status changed", zap.String("from", string(from)), zap.String("to", string(target)))
			}
		}
	}

	if d.Paid.Present {
		if trade.IsEmpty(d.Paid) {
			result.flag(ref, "paid")
		} else if paid, err := commerceml.ParseBool(d.Paid.Value); err != nil {
			rejected = true
			logger.Warn("invalid paid flag", zap.String("value", d.Paid.Value))
		} else if order.SetPaid(paid, nil) {
			changed = true
			logger.Debug("order paid flag changed", zap.Bool("paid", paid))
		}
	}

	if d.PaidDate.Present {
		if trade.IsEmpty(d.PaidDate) {
			result.flag(ref, "paid_date")
		} else if at, err := commerceml.ParseDate(d.PaidDate.Value); err != nil {
			rejected = true
			logger.Warn("invalid paid date", zap.String("value", d.PaidDate.Value))
		} else if at != nil && order.SetPaidAt(*at) {
			changed = true
			logger.Debug("order paid date changed", zap.Time("paid_at", *at))
		}
	}

	if d.ShippedDate.Present {
		if trade.IsEmpty(d.ShippedDate) {
			if order.SetShippedAt(nil) {
				changed = true
				logger.Debug("order shipped date cleared")
			}
		} else if at, err := commerceml.ParseDate(d.ShippedDate.Value); err != nil {
			rejected = true
			logger.Warn("invalid shipped date", zap.String("value", d.ShippedDate.Value))
		} else if order.SetShippedAt(at) {
			changed = true
			logger.Debug("order shipped date changed")
		}
	}

	if fields, ok := result.AmbiguousEmpty[ref]; ok {
		logger.Warn("empty order fields left unchanged", zap.Strings("fields", fields))
	}
	return changed, rejected
}

func (s *OrderStatusImporter) publish(ctx context.Context, order *trade.Order) {
	events := order.GetDomainEvents()
	order.ClearDomainEvents()
	if s.publisher == nil || len(events) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, events...); err != nil {
		s.logger.Warn("failed to publish order events", zap.String("order_id", order.ID.String()), zap.Error(err))
	}
}
