package inventory

import (
	"time"

	"github.com/google/uuid"
)

type Category struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Product struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Description  *string    `json:"description,omitempty"`
	CategoryID   *uuid.UUID `json:"category_id,omitempty"`
	CategoryName *string    `json:"category_name,omitempty"`
	Price        float64    `json:"price"`
	Cost         float64    `json:"cost"`
	Stock        int        `json:"stock"`
	MinStock     int        `json:"min_stock"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsLow reports whether the product is at or below its minimum stock.
func (p *Product) IsLow() bool {
	return p.Stock <= p.MinStock
}

// Stock movement reasons.
const (
	ReasonManual      = "manual"
	ReasonAppointment = "appointment"
	ReasonSale        = "sale"
	ReasonReversal    = "reversal"
)

// StockMovement is one entry of a product's stock ledger.
type StockMovement struct {
	ID          uuid.UUID  `json:"id"`
	ProductID   uuid.UUID  `json:"product_id"`
	Delta       int        `json:"delta"`
	StockAfter  int        `json:"stock_after"`
	Reason      string     `json:"reason"`
	ReferenceID *uuid.UUID `json:"reference_id,omitempty"`
	Note        *string    `json:"note,omitempty"`
	CreatedBy   *string    `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// StockAdjustment is the body of POST /products/:id/stock.
type StockAdjustment struct {
	Delta int    `json:"delta"`
	Note  string `json:"note"`
}
