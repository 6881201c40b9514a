package invoices

// FinalizeRequest is the body of POST /invoices.
type FinalizeRequest struct {
	ClientName  string        `json:"clientName" validate:"required,max=200"`
	ClientEmail string        `json:"clientEmail" validate:"omitempty,email"`
	Lines       []LineRequest `json:"lines" validate:"required,min=1,dive"`
}

// LineRequest is one line of a finalize request. A line with a productId
// takes its description and price from the catalog.
type LineRequest struct {
	ProductID   string  `json:"productId,omitempty" validate:"omitempty,uuid"`
	Description string  `json:"description,omitempty" validate:"required_without=ProductID,max=500"`
	Quantity    int     `json:"quantity" validate:"gte=1"`
	Price       float64 `json:"price,omitempty" validate:"gte=0"`
}

// ToggleRequest is the body of POST /invoices/{id}/status. Expected is the
// status the client last saw; a repeated request with the same value settles.
type ToggleRequest struct {
	Expected Status `json:"expected" validate:"required,oneof=pending done cancelled"`
}
