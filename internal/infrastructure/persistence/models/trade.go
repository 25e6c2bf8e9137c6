package models

import (
	"time"

	"github.com/erp/exchange/internal/domain/trade"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderModel is the persistence model for the Order aggregate.
type OrderModel struct {
	AggregateModel
	Number     string            `gorm:"type:varchar(50);not null;uniqueIndex"`
	AccountID  *uuid.UUID        `gorm:"type:uuid;index"`
	Status     trade.OrderStatus `gorm:"type:varchar(20);not null"`
	IsPaid     bool              `gorm:"not null;default:false"`
	PaidAt     *time.Time
	ShippedAt  *time.Time
	Comment    string            `gorm:"type:text;not null;default:''"`
	Currency   string            `gorm:"type:varchar(10);not null"`
	Total      decimal.Decimal   `gorm:"type:decimal(18,2);not null;default:0"`
	ExportedAt *time.Time        `gorm:"index"`
	Items      []OrderItemModel  `gorm:"foreignKey:OrderID;references:ID"`
}

// TableName returns the table name for GORM
func (OrderModel) TableName() string {
	return "orders"
}

// OrderItemModel is the persistence model for order lines.
type OrderItemModel struct {
	ID            uuid.UUID       `gorm:"type:uuid;primary_key"`
	OrderID       uuid.UUID       `gorm:"type:uuid;not null;index"`
	ProductID     *uuid.UUID      `gorm:"type:uuid;index"`
	SKUExternalID string          `gorm:"column:sku_external_id;type:varchar(100);not null;default:''"`
	Name          string          `gorm:"type:varchar(500);not null;default:''"`
	Quantity      decimal.Decimal `gorm:"type:decimal(18,3);not null"`
	Price         decimal.Decimal `gorm:"type:decimal(18,2);not null"`
}

// TableName returns the table name for GORM
func (OrderItemModel) TableName() string {
	return "order_items"
}

// ToDomain converts the persistence model to a domain Order.
func (m *OrderModel) ToDomain() *trade.Order {
	items := make([]trade.OrderItem, len(m.Items))
	for i, it := range m.Items {
		items[i] = trade.OrderItem{
			ID:            it.ID,
			OrderID:       it.OrderID,
			ProductID:     it.ProductID,
			SKUExternalID: it.SKUExternalID,
			Name:          it.Name,
			Quantity:      it.Quantity,
			Price:         it.Price,
		}
	}
	return &trade.Order{
		BaseAggregateRoot: m.ToDomainAggregate(),
		Number:            m.Number,
		AccountID:         m.AccountID,
		Status:            m.Status,
		IsPaid:            m.IsPaid,
		PaidAt:            m.PaidAt,
		ShippedAt:         m.ShippedAt,
		Comment:           m.Comment,
		Currency:          m.Currency,
		Items:             items,
		ExportedAt:        m.ExportedAt,
	}
}

// OrderModelFromDomain creates a persistence model from a domain Order.
func OrderModelFromDomain(o *trade.Order) *OrderModel {
	m := &OrderModel{
		Number:     o.Number,
		AccountID:  o.AccountID,
		Status:     o.Status,
		IsPaid:     o.IsPaid,
		PaidAt:     o.PaidAt,
		ShippedAt:  o.ShippedAt,
		Comment:    o.Comment,
		Currency:   o.Currency,
		Total:      o.Total(),
		ExportedAt: o.ExportedAt,
		Items:      make([]OrderItemModel, len(o.Items)),
	}
	m.FromDomainAggregateRoot(o.BaseAggregateRoot)
	for i, it := range o.Items {
		m.Items[i] = OrderItemModel{
			ID:            it.ID,
			OrderID:       o.ID,
			ProductID:     it.ProductID,
			SKUExternalID: it.SKUExternalID,
			Name:          it.Name,
			Quantity:      it.Quantity,
			Price:         it.Price,
		}
	}
	return m
}
