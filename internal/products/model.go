package products

import (
	"time"

	"github.com/google/uuid"
)

// Product is a catalog entry owned by one user.
type Product struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   string    `json:"-"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	Stock     int       `json:"stock"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// InStock reports whether the product can be picked for an invoice.
func (p Product) InStock() bool { return p.Stock > 0 }

// Filter narrows List.
type Filter struct {
	Search  string
	InStock bool
}

// Patch holds the fields of an update. Nil fields are left untouched.
type Patch struct {
	Name  *string
	Price *float64
	Stock *int
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Name == nil && p.Price == nil && p.Stock == nil
}
