package invoices

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/invoicedesk/invoicedesk/internal/platform/httpx"
)

var (
	ErrLastLine             = fmt.Errorf("%w: an invoice needs at least one line", httpx.ErrValidation)
	ErrLineIndex            = fmt.Errorf("%w: line index out of range", httpx.ErrValidation)
	ErrLineKind             = fmt.Errorf("%w: operation not allowed for this line kind", httpx.ErrValidation)
	ErrInvalidQuantity      = fmt.Errorf("%w: quantity must be at least 1", httpx.ErrValidation)
	ErrQuantityExceedsStock = fmt.Errorf("%w: quantity exceeds available stock", httpx.ErrValidation)
	ErrUnknownProduct       = fmt.Errorf("%w: product not in catalog", httpx.ErrValidation)
	ErrOutOfStock           = fmt.Errorf("%w: product is out of stock", httpx.ErrValidation)

	// ErrStatusConflict means the invoice moved to another status concurrently.
	ErrStatusConflict = fmt.Errorf("%w: invoice status changed concurrently", httpx.ErrConflict)
	// ErrInvalidTransition rejects status changes the lifecycle does not allow.
	ErrInvalidTransition = fmt.Errorf("%w: status transition not allowed", httpx.ErrUnprocessable)
)

// InsufficientStockError aborts a finalize when a line asks for more units
// than the product holds.
type InsufficientStockError struct {
	Line        int
	ProductID   uuid.UUID
	Description string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q on line %d: requested %d, available %d",
		e.Description, e.Line+1, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return httpx.ErrConflict }

// ProblemExtensions names the offending line.
func (e *InsufficientStockError) ProblemExtensions() map[string]any {
	return map[string]any{
		"line":      e.Line,
		"productId": e.ProductID.String(),
		"requested": e.Requested,
		"available": e.Available,
	}
}

// ProductNotFoundError aborts a finalize that references a product the
// owner does not have.
type ProductNotFoundError struct {
	Line      int
	ProductID uuid.UUID
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s on line %d not found", e.ProductID, e.Line+1)
}

func (e *ProductNotFoundError) Unwrap() error { return httpx.ErrUnprocessable }

// ProblemExtensions names the offending line.
func (e *ProductNotFoundError) ProblemExtensions() map[string]any {
	return map[string]any{"line": e.Line, "productId": e.ProductID.String()}
}
