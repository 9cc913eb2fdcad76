package models

import "github.com/shopspring/decimal"

// ProductSnapshot is the product service's view of a product at the time of
// the call. Name and price are copied into order items.
type ProductSnapshot struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	Category string          `json:"category,omitempty"`
	Active   bool            `json:"active"`
}

type StockOperation string

const (
	StockAdd      StockOperation = "ADD"
	StockSubtract StockOperation = "SUBTRACT"
	StockSet      StockOperation = "SET"
)
