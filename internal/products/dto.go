package products

// CreateRequest is the body of POST /products.
type CreateRequest struct {
	Name  string  `json:"name" validate:"required,max=200"`
	Price float64 `json:"price" validate:"gte=0"`
	Stock int     `json:"stock" validate:"gte=0"`
}

// UpdateRequest is the body of PATCH /products/{id}.
type UpdateRequest struct {
	Name  *string  `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Price *float64 `json:"price,omitempty" validate:"omitempty,gte=0"`
	Stock *int     `json:"stock,omitempty" validate:"omitempty,gte=0"`
}

func (r UpdateRequest) patch() Patch {
	return Patch{Name: r.Name, Price: r.Price, Stock: r.Stock}
}
