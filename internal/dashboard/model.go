// Package dashboard aggregates owner level statistics and the recent activity feed.
package dashboard

import "time"

// Activity types.
const (
	ActivityProductAdded   = "product_added"
	ActivityInvoiceCreated = "invoice_created"
)

// FeedSize caps the recent activity feed.
const FeedSize = 5

// Stats summarises products and invoices for one owner.
type Stats struct {
	TotalProducts   int     `json:"totalProducts"`
	TotalValue      float64 `json:"totalValue"`
	AveragePrice    float64 `json:"averagePrice"`
	LowStock        int     `json:"lowStock"`
	TotalInvoices   int     `json:"totalInvoices"`
	PendingInvoices int     `json:"pendingInvoices"`
	Revenue         float64 `json:"revenue"`
}

// ProductStats is the product half of Stats.
type ProductStats struct {
	Count        int
	TotalValue   float64
	AveragePrice float64
	LowStock     int
}

// InvoiceStats is the invoice half of Stats. Revenue counts done invoices only.
type InvoiceStats struct {
	Count   int
	Pending int
	Revenue float64
}

// Activity is one entry of the recent activity feed.
type Activity struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Dashboard is the payload served at /dashboard.
type Dashboard struct {
	Stats          Stats      `json:"stats"`
	RecentActivity []Activity `json:"recentActivity"`
	GeneratedAt    time.Time  `json:"generatedAt"`
}
