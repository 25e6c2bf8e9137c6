package trade

import (
	"fmt"
	"strings"
	"time"

	"github.com/erp/exchange/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus represents the status of a storefront order
type OrderStatus string

const (
	OrderStatusNew        OrderStatus = "new"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// IsValid checks if the status is valid
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusNew, OrderStatusProcessing, OrderStatusShipped, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// IsTerminal returns true for completed and cancelled orders
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// CanTransitionTo checks if the status can move forward to the target status
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	switch s {
	case OrderStatusNew:
		return target == OrderStatusProcessing || target == OrderStatusShipped ||
			target == OrderStatusCompleted || target == OrderStatusCancelled
	case OrderStatusProcessing:
		return target == OrderStatusShipped || target == OrderStatusCompleted || target == OrderStatusCancelled
	case OrderStatusShipped:
		return target == OrderStatusCompleted || target == OrderStatusCancelled
	case OrderStatusCompleted, OrderStatusCancelled:
		return false // Terminal states
	}
	return false
}

// statusAliases maps the status texts 1C puts in order documents
var statusAliases = map[string]OrderStatus{
	"new":         OrderStatusNew,
	"новый":       OrderStatusNew,
	"processing":  OrderStatusProcessing,
	"в работе":    OrderStatusProcessing,
	"в обработке": OrderStatusProcessing,
	"shipped":     OrderStatusShipped,
	"отгружен":    OrderStatusShipped,
	"completed":   OrderStatusCompleted,
	"выполнен":    OrderStatusCompleted,
	"завершен":    OrderStatusCompleted,
	"cancelled":   OrderStatusCancelled,
	"canceled":    OrderStatusCancelled,
	"отменен":     OrderStatusCancelled,
}

// ParseOrderStatus maps a 1C status text to an order status
func ParseOrderStatus(s string) (OrderStatus, bool) {
	key := strings.ToLower(strings.Join(strings.Fields(s), " "))
	key = strings.ReplaceAll(key, "ё", "е")
	status, ok := statusAliases[key]
	return status, ok
}

// OrderItem is a line of an order
type OrderItem struct {
	ID            uuid.UUID
	OrderID       uuid.UUID
	ProductID     *uuid.UUID
	SKUExternalID string
	Name          string
	Quantity      decimal.Decimal
	Price         decimal.Decimal
}

// Amount returns quantity * price
func (i OrderItem) Amount() decimal.Decimal {
	return i.Quantity.Mul(i.Price)
}

// Order is a storefront order exchanged with 1C. ID is the immutable key
// used in exchange documents; Number is editable by operators.
type Order struct {
	shared.BaseAggregateRoot
	Number     string
	AccountID  *uuid.UUID
	Status     OrderStatus
	IsPaid     bool
	PaidAt     *time.Time
	ShippedAt  *time.Time
	Comment    string
	Currency   string
	Items      []OrderItem
	ExportedAt *time.Time
}

// NewOrder creates a new order
func NewOrder(number string, accountID *uuid.UUID, currency string) (*Order, error) {
	if strings.TrimSpace(number) == "" {
		return nil, shared.NewDomainError("INVALID_ORDER_NUMBER", "Order number cannot be empty")
	}
	if currency == "" {
		currency = "RUB"
	}
	return &Order{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		Number:            strings.TrimSpace(number),
		AccountID:         accountID,
		Status:            OrderStatusNew,
		Currency:          currency,
		Items:             make([]OrderItem, 0),
	}, nil
}

// AddItem appends a line
func (o *Order) AddItem(productID *uuid.UUID, skuExternalID, name string, quantity, price decimal.Decimal) error {
	if quantity.LessThanOrEqual(decimal.Zero) {
		return shared.NewDomainError("INVALID_QUANTITY", "Quantity must be positive")
	}
	if price.IsNegative() {
		return shared.NewDomainError("INVALID_PRICE", "Price cannot be negative")
	}
	o.Items = append(o.Items, OrderItem{
		ID:            uuid.New(),
		OrderID:       o.ID,
		ProductID:     productID,
		SKUExternalID: skuExternalID,
		Name:          name,
		Quantity:      quantity,
		Price:         price,
	})
	o.Touch()
	return nil
}

// Total returns the sum of all line amounts
func (o *Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Amount())
	}
	return total
}

// ChangeStatus moves the order to target. Same-state updates are a no-op and
// report changed=false.
func (o *Order) ChangeStatus(target OrderStatus) (changed bool, err error) {
	if !target.IsValid() {
		return false, shared.NewDomainError("INVALID_STATUS", fmt.Sprintf("Invalid order status: %s", target))
	}
	if o.Status == target {
		return false, nil
	}
	if !o.Status.CanTransitionTo(target) {
		return false, shared.NewDomainError("INVALID_TRANSITION",
			fmt.Sprintf("Cannot change order status from %s to %s", o.Status, target))
	}
	from := o.Status
	o.Status = target
	o.Touch()
	o.AddDomainEvent(NewOrderStatusChangedEvent(o, from, target))
	return true, nil
}

// SetPaid updates the payment flag and date. Returns true if anything changed.
func (o *Order) SetPaid(paid bool, at *time.Time) bool {
	changed := o.IsPaid != paid
	o.IsPaid = paid
	if at != nil && (o.PaidAt == nil || !o.PaidAt.Equal(*at)) {
		o.PaidAt = at
		changed = true
	}
	if changed {
		o.Touch()
	}
	return changed
}

// SetPaidAt updates only the payment date
func (o *Order) SetPaidAt(at time.Time) bool {
	if o.PaidAt != nil && o.PaidAt.Equal(at) {
		return false
	}
	o.PaidAt = &at
	o.Touch()
	return true
}

// SetShippedAt updates the shipping date. nil clears it.
func (o *Order) SetShippedAt(at *time.Time) bool {
	switch {
	case at == nil && o.ShippedAt == nil:
		return false
	case at != nil && o.ShippedAt != nil && o.ShippedAt.Equal(*at):
		return false
	}
	o.ShippedAt = at
	o.Touch()
	return true
}

// NeedsExport reports whether the order has changes 1C has not acknowledged
func (o *Order) NeedsExport() bool {
	return o.ExportedAt == nil || o.UpdatedAt.After(*o.ExportedAt)
}

// MarkExported records the 1C acknowledgement
func (o *Order) MarkExported(at time.Time) {
	o.ExportedAt = &at
}
