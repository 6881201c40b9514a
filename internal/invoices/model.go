package invoices

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/invoicedesk/invoicedesk/internal/document"
)

// Status is the lifecycle state of a persisted invoice.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
)

var titleCaser = cases.Title(language.English)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusDone, StatusCancelled:
		return true
	}
	return false
}

// Label is the human readable form shown in lists.
func (s Status) Label() string {
	return titleCaser.String(string(s))
}

// Toggled returns the status a toggle moves s to. Only pending and done
// flip into each other; cancelled has no outgoing transition.
func (s Status) Toggled() (Status, error) {
	switch s {
	case StatusPending:
		return StatusDone, nil
	case StatusDone:
		return StatusPending, nil
	default:
		return s, ErrInvalidTransition
	}
}

// Invoice is a finalized invoice header.
type Invoice struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     string    `json:"-"`
	Number      string    `json:"number"`
	ClientName  string    `json:"clientName"`
	ClientEmail string    `json:"clientEmail"`
	Total       float64   `json:"total"`
	Status      Status    `json:"status"`
	FileURL     *string   `json:"fileUrl,omitempty"`
	DocumentURL *string   `json:"documentUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	Lines       []Line    `json:"lines,omitempty"`
}

// MarshalJSON adds the display label next to the raw status.
func (i Invoice) MarshalJSON() ([]byte, error) {
	type plain Invoice
	return json.Marshal(struct {
		plain
		StatusLabel string `json:"statusLabel"`
	}{plain: plain(i), StatusLabel: i.Status.Label()})
}

// Line is a persisted invoice line.
type Line struct {
	Position    int        `json:"position"`
	ProductID   *uuid.UUID `json:"productId,omitempty"`
	Description string     `json:"description"`
	Quantity    int        `json:"quantity"`
	UnitPrice   float64    `json:"unitPrice"`
	LineTotal   float64    `json:"lineTotal"`
}

// DocumentInput converts the invoice into the document generator's input.
func (i Invoice) DocumentInput() document.Input {
	lines := make([]document.Line, 0, len(i.Lines))
	for _, l := range i.Lines {
		lines = append(lines, document.Line{Description: l.Description, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return document.Input{
		Number:      i.Number,
		IssuedAt:    i.CreatedAt,
		ClientName:  i.ClientName,
		ClientEmail: i.ClientEmail,
		Lines:       lines,
	}
}
