package invoices

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/invoicedesk/invoicedesk/internal/document"
	"github.com/invoicedesk/invoicedesk/internal/platform/httpx"
)

// LineKind distinguishes catalog backed lines from free text lines.
type LineKind string

const (
	KindManual  LineKind = "manual"
	KindCatalog LineKind = "catalog"
)

// CatalogProduct is what a draft needs to know about a product at selection time.
type CatalogProduct struct {
	ID    uuid.UUID
	Name  string
	Price float64
	Stock int
}

// Catalog resolves products by their stable identifier.
type Catalog interface {
	Lookup(id uuid.UUID) (CatalogProduct, bool)
}

// CatalogSnapshot is an in-memory Catalog.
type CatalogSnapshot map[uuid.UUID]CatalogProduct

// NewCatalog indexes items by id.
func NewCatalog(items ...CatalogProduct) CatalogSnapshot {
	c := make(CatalogSnapshot, len(items))
	for _, it := range items {
		c[it.ID] = it
	}
	return c
}

// Lookup implements Catalog.
func (c CatalogSnapshot) Lookup(id uuid.UUID) (CatalogProduct, bool) {
	p, ok := c[id]
	return p, ok
}

// DraftLine is an editable line. Available is the stock observed when the
// product was selected and bounds Quantity for catalog lines.
type DraftLine struct {
	Kind        LineKind
	ProductID   uuid.UUID
	Description string
	Quantity    int
	UnitPrice   float64
	Available   int
}

// Amount is quantity times price, rounded to cents.
func (l DraftLine) Amount() float64 {
	return document.RoundCents(float64(l.Quantity) * l.UnitPrice)
}

// Draft is the in-progress invoice. It performs no I/O.
type Draft struct {
	ClientName  string
	ClientEmail string
	Lines       []DraftLine
}

// NewDraft returns a draft holding a single empty manual line.
func NewDraft() *Draft {
	d := &Draft{}
	d.AddLine(KindManual)
	return d
}

// AddLine appends an empty line and returns its index.
func (d *Draft) AddLine(kind LineKind) int {
	if kind != KindCatalog {
		kind = KindManual
	}
	d.Lines = append(d.Lines, DraftLine{Kind: kind, Quantity: 1})
	return len(d.Lines) - 1
}

// RemoveLine deletes line i. The last remaining line cannot be removed.
func (d *Draft) RemoveLine(i int) error {
	if err := d.check(i); err != nil {
		return err
	}
	if len(d.Lines) == 1 {
		return ErrLastLine
	}
	d.Lines = append(d.Lines[:i], d.Lines[i+1:]...)
	return nil
}

// SelectProduct binds line i to a catalog product, copying its name, price
// and stock, and resets the quantity to 1. Products without stock are
// refused and leave the line untouched.
func (d *Draft) SelectProduct(i int, id uuid.UUID, catalog Catalog) error {
	if err := d.check(i); err != nil {
		return err
	}
	p, ok := catalog.Lookup(id)
	if !ok {
		return ErrUnknownProduct
	}
	if p.Stock < 1 {
		return ErrOutOfStock
	}
	d.Lines[i] = DraftLine{
		Kind:        KindCatalog,
		ProductID:   p.ID,
		Description: p.Name,
		Quantity:    1,
		UnitPrice:   p.Price,
		Available:   p.Stock,
	}
	return nil
}

// SetQuantity updates the quantity of line i. Catalog lines are clamped to
// the observed stock and ErrQuantityExceedsStock reports the clamp. The
// quantity never drops below 1.
func (d *Draft) SetQuantity(i, qty int) error {
	if err := d.check(i); err != nil {
		return err
	}
	if qty < 1 {
		return ErrInvalidQuantity
	}
	line := &d.Lines[i]
	if line.Kind == KindCatalog && qty > line.Available {
		if line.Available >= 1 {
			line.Quantity = line.Available
		}
		return ErrQuantityExceedsStock
	}
	line.Quantity = qty
	return nil
}

// SetManual edits the description and price of a manual line.
func (d *Draft) SetManual(i int, description string, price float64) error {
	if err := d.check(i); err != nil {
		return err
	}
	if d.Lines[i].Kind != KindManual {
		return ErrLineKind
	}
	d.Lines[i].Description = description
	d.Lines[i].UnitPrice = price
	return nil
}

// Total sums the line amounts. It is recomputed on every call.
func (d *Draft) Total() float64 {
	var sum float64
	for _, l := range d.Lines {
		sum += l.Amount()
	}
	return document.RoundCents(sum)
}

// Validate checks the draft before persistence.
func (d *Draft) Validate() error {
	fields := map[string]string{}
	if strings.TrimSpace(d.ClientName) == "" {
		fields["clientName"] = "is required"
	}
	if len(d.Lines) == 0 {
		fields["lines"] = "must contain at least one line"
	}
	for i, l := range d.Lines {
		prefix := fmt.Sprintf("lines[%d].", i)
		if strings.TrimSpace(l.Description) == "" {
			fields[prefix+"description"] = "is required"
		}
		if l.Quantity < 1 {
			fields[prefix+"quantity"] = "must be at least 1"
		}
		if l.UnitPrice < 0 {
			fields[prefix+"price"] = "must be greater than or equal to 0"
		}
		if l.Kind == KindCatalog {
			if l.ProductID == uuid.Nil {
				fields[prefix+"productId"] = "is required"
			} else if l.Quantity > l.Available {
				fields[prefix+"quantity"] = fmt.Sprintf("must be at most %d", l.Available)
			}
		}
	}
	if len(fields) > 0 {
		return &httpx.ValidationError{Fields: fields}
	}
	return nil
}

// DocumentLines returns the draft lines in document form.
func (d *Draft) DocumentLines() []document.Line {
	out := make([]document.Line, 0, len(d.Lines))
	for _, l := range d.Lines {
		out = append(out, document.Line{Description: l.Description, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return out
}

func (d *Draft) check(i int) error {
	if i < 0 || i >= len(d.Lines) {
		return ErrLineIndex
	}
	return nil
}
