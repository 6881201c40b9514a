package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/invoicedesk/invoicedesk/internal/store"
)

// Repository runs the aggregate queries.
type Repository interface {
	ProductStats(ctx context.Context, owner string, lowStockThreshold int) (ProductStats, error)
	InvoiceStats(ctx context.Context, owner string) (InvoiceStats, error)
	RecentProducts(ctx context.Context, owner string, limit int) ([]Activity, error)
	RecentInvoices(ctx context.Context, owner string, limit int) ([]Activity, error)
}

type repository struct {
	db store.DBTX
}

// NewRepository returns the pgx backed repository.
func NewRepository(db store.DBTX) Repository {
	return &repository{db: db}
}

const productStatsSQL = `
SELECT COUNT(*),
       COALESCE(SUM(price * stock), 0)::float8,
       COALESCE(AVG(price), 0)::float8,
       COUNT(*) FILTER (WHERE stock < $2)
FROM products
WHERE owner_id = $1`

func (r *repository) ProductStats(ctx context.Context, owner string, lowStockThreshold int) (ProductStats, error) {
	var out ProductStats
	err := r.db.QueryRow(ctx, productStatsSQL, owner, lowStockThreshold).
		Scan(&out.Count, &out.TotalValue, &out.AveragePrice, &out.LowStock)
	if err != nil {
		return ProductStats{}, store.Wrap("aggregate", store.CollectionProducts, err)
	}
	return out, nil
}

const invoiceStatsSQL = `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE status = 'pending'),
       COALESCE(SUM(total) FILTER (WHERE status = 'done'), 0)::float8
FROM invoices
WHERE owner_id = $1`

func (r *repository) InvoiceStats(ctx context.Context, owner string) (InvoiceStats, error) {
	var out InvoiceStats
	err := r.db.QueryRow(ctx, invoiceStatsSQL, owner).Scan(&out.Count, &out.Pending, &out.Revenue)
	if err != nil {
		return InvoiceStats{}, store.Wrap("aggregate", store.CollectionInvoices, err)
	}
	return out, nil
}

func (r *repository) RecentProducts(ctx context.Context, owner string, limit int) ([]Activity, error) {
	rows, err := r.db.Query(ctx, `
		SELECT uuid, name, created_at FROM products
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, owner, limit)
	if err != nil {
		return nil, store.Wrap("recent", store.CollectionProducts, err)
	}
	out, err := collectActivity(rows, func(id uuid.UUID, label string) Activity {
		return Activity{ID: id.String(), Type: ActivityProductAdded, Description: "Added product: " + label}
	})
	return out, store.Wrap("recent", store.CollectionProducts, err)
}

func (r *repository) RecentInvoices(ctx context.Context, owner string, limit int) ([]Activity, error) {
	rows, err := r.db.Query(ctx, `
		SELECT uuid, number || ' for ' || client_name, created_at FROM invoices
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, owner, limit)
	if err != nil {
		return nil, store.Wrap("recent", store.CollectionInvoices, err)
	}
	out, err := collectActivity(rows, func(id uuid.UUID, label string) Activity {
		return Activity{ID: id.String(), Type: ActivityInvoiceCreated, Description: "Created invoice " + label}
	})
	return out, store.Wrap("recent", store.CollectionInvoices, err)
}

func collectActivity(rows pgx.Rows, build func(uuid.UUID, string) Activity) ([]Activity, error) {
	defer rows.Close()
	out := make([]Activity, 0)
	for rows.Next() {
		var (
			id      uuid.UUID
			label   string
			created time.Time
		)
		if err := rows.Scan(&id, &label, &created); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		entry := build(id, label)
		entry.CreatedAt = created
		out = append(out, entry)
	}
	return out, rows.Err()
}
