package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusConfirmed OrderStatus = "CONFIRMED"
	StatusShipped   OrderStatus = "SHIPPED"
	StatusDelivered OrderStatus = "DELIVERED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// OrderStatuses lists every status in lifecycle order.
var OrderStatuses = []OrderStatus{
	StatusPending,
	StatusConfirmed,
	StatusShipped,
	StatusDelivered,
	StatusCancelled,
}

var ErrInvalidStatus = errors.New("invalid order status")

// ParseOrderStatus accepts any letter case.
func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

func (s OrderStatus) String() string {
	return string(s)
}

type Order struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          int64           `gorm:"not null;index" json:"user_id"`
	OrderDate       time.Time       `gorm:"not null" json:"order_date"`
	Status          OrderStatus     `gorm:"type:varchar(20);not null;index;default:'PENDING'" json:"status"`
	TotalAmount     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total_amount"`
	ShippingAddress string          `gorm:"type:varchar(500);not null" json:"shipping_address"`
	Items           []OrderItem     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items"`
	CreatedAt       time.Time       `gorm:"not null;autoCreateTime;<-:create" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

// IsModifiable reports whether the order may still change status.
func (o *Order) IsModifiable() bool {
	return !o.Status.IsTerminal()
}

// AddItem appends a line and keeps the total in step with it.
func (o *Order) AddItem(item OrderItem) {
	item.CalculateSubtotal()
	o.Items = append(o.Items, item)
	o.TotalAmount = o.TotalAmount.Add(item.Subtotal)
}

// CalculateTotalAmount recomputes every subtotal and the order total.
func (o *Order) CalculateTotalAmount() {
	total := decimal.Zero
	for i := range o.Items {
		o.Items[i].CalculateSubtotal()
		total = total.Add(o.Items[i].Subtotal)
	}
	o.TotalAmount = total
}

// TotalItemsCount sums the quantities of all lines.
func (o *Order) TotalItemsCount() int {
	n := 0
	for _, item := range o.Items {
		n += item.Quantity
	}
	return n
}

var ErrEmptyOrder = errors.New("order must contain at least one item")

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if len(o.Items) == 0 {
		return ErrEmptyOrder
	}
	return nil
}

// BeforeSave keeps total_amount equal to the sum of the subtotals whenever
// the items travel with the order.
func (o *Order) BeforeSave(tx *gorm.DB) error {
	if len(o.Items) > 0 {
		o.CalculateTotalAmount()
	}
	return nil
}

type OrderItem struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID     int64           `gorm:"not null;index" json:"order_id"`
	ProductID   int64           `gorm:"not null;index" json:"product_id"`
	ProductName string          `gorm:"type:varchar(200);not null" json:"product_name"`
	Quantity    int             `gorm:"not null" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_price"`
	Subtotal    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"subtotal"`
}

func (OrderItem) TableName() string {
	return "order_items"
}

// CalculateSubtotal derives subtotal = unit price × quantity.
func (i *OrderItem) CalculateSubtotal() {
	i.Subtotal = i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func (i *OrderItem) BeforeSave(tx *gorm.DB) error {
	if i.Quantity <= 0 {
		return fmt.Errorf("order item for product %d: quantity must be positive", i.ProductID)
	}
	i.CalculateSubtotal()
	return nil
}
