package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/invoicedesk/invoicedesk/internal/platform/httpx"
)

// DefaultLowStockThreshold flags products with fewer units than this.
const DefaultLowStockThreshold = 10

// MovementReason enumerates why stock changed.
type MovementReason string

const (
	// ReasonInvoice is written by invoice finalize.
	ReasonInvoice MovementReason = "invoice"
	// ReasonAdjustment indicates manual adjustments.
	ReasonAdjustment MovementReason = "adjustment"
)

// Level is the current stock of one product.
type Level struct {
	ProductID uuid.UUID `json:"productId"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	Stock     int       `json:"stock"`
	Value     float64   `json:"value"`
	LowStock  bool      `json:"lowStock"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Movement is one stock ledger entry.
type Movement struct {
	ID        int64          `json:"id"`
	ProductID uuid.UUID      `json:"productId"`
	Delta     int            `json:"delta"`
	Balance   int            `json:"balance"`
	Reason    MovementReason `json:"reason"`
	Reference string         `json:"reference"`
	CreatedAt time.Time      `json:"createdAt"`
}

// AdjustmentInput describes a request to adjust stock.
type AdjustmentInput struct {
	ProductID uuid.UUID
	Delta     int
	Note      string
	Key       string
}

// AdjustmentRequest is the body of POST /inventory/{productID}/adjustments.
type AdjustmentRequest struct {
	Delta int    `json:"delta" validate:"required"`
	Note  string `json:"note" validate:"max=500"`
}

// AskRequest is the body of POST /inventory/ask.
type AskRequest struct {
	Query string `json:"query" validate:"required,max=4000"`
}

var (
	// ErrInvalidQuantity rejects zero adjustments.
	ErrInvalidQuantity = fmt.Errorf("%w: inventory: quantity must be non-zero", httpx.ErrValidation)
	// ErrNegativeStock is returned when an adjustment would drive stock below zero.
	ErrNegativeStock = fmt.Errorf("%w: inventory: negative stock not allowed", httpx.ErrConflict)
	// ErrAssistantUnavailable is returned when no flow runner is wired.
	ErrAssistantUnavailable = fmt.Errorf("%w: inventory assistant not configured", httpx.ErrUnavailable)
)

// NegativeStockError carries the product and balances of a refused adjustment.
type NegativeStockError struct {
	ProductID uuid.UUID
	Stock     int
	Delta     int
}

func (e *NegativeStockError) Error() string {
	return fmt.Sprintf("inventory: adjusting %s by %d would leave %d units", e.ProductID, e.Delta, e.Stock+e.Delta)
}

func (e *NegativeStockError) Unwrap() error { return ErrNegativeStock }

// ProblemExtensions exposes the offending product.
func (e *NegativeStockError) ProblemExtensions() map[string]any {
	return map[string]any{"productId": e.ProductID.String(), "stock": e.Stock, "delta": e.Delta}
}

func isNegative(err error) bool {
	return errors.Is(err, ErrNegativeStock)
}
