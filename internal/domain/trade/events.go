package trade

import (
	"github.com/erp/exchange/internal/domain/shared"
)

const (
	// AggregateTypeOrder is the aggregate type for orders
	AggregateTypeOrder = "Order"
	// EventTypeOrderStatusChanged is emitted when an order status changes
	EventTypeOrderStatusChanged = "OrderStatusChanged"
)

// OrderStatusChangedEvent is published after a status change is persisted
type OrderStatusChangedEvent struct {
	shared.BaseDomainEvent
	OrderNumber string      `json:"order_number"`
	FromStatus  OrderStatus `json:"from_status"`
	ToStatus    OrderStatus `json:"to_status"`
}

// NewOrderStatusChangedEvent creates the event
func NewOrderStatusChangedEvent(o *Order, from, to OrderStatus) *OrderStatusChangedEvent {
	return &OrderStatusChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeOrderStatusChanged, AggregateTypeOrder, o.ID),
		OrderNumber:     o.Number,
		FromStatus:      from,
		ToStatus:        to,
	}
}
