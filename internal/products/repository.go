package products

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/invoicedesk/invoicedesk/internal/store"
)

// Repository is the products collection. Every call is scoped by owner.
type Repository interface {
	List(ctx context.Context, owner string, filter Filter) ([]Product, error)
	Get(ctx context.Context, owner string, id uuid.UUID) (Product, error)
	Insert(ctx context.Context, owner string, product Product) (Product, error)
	Update(ctx context.Context, owner string, id uuid.UUID, patch Patch) (Product, error)
	Delete(ctx context.Context, owner string, id uuid.UUID) error
}

type repository struct {
	db store.DBTX
}

// NewRepository returns the pgx backed repository.
func NewRepository(db store.DBTX) Repository {
	return &repository{db: db}
}

const productColumns = `uuid, owner_id, name, price, stock, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Price, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *repository) List(ctx context.Context, owner string, filter Filter) ([]Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE owner_id = $1`
	args := []any{owner}

	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		query += ` AND name ILIKE $` + strconv.Itoa(len(args))
	}
	if filter.InStock {
		query += ` AND stock > 0`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, store.Wrap("list", store.CollectionProducts, err)
	}
	defer rows.Close()

	products := make([]Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, store.Wrap("list", store.CollectionProducts, err)
		}
		products = append(products, p)
	}
	return products, store.Wrap("list", store.CollectionProducts, rows.Err())
}

func (r *repository) Get(ctx context.Context, owner string, id uuid.UUID) (Product, error) {
	p, err := scanProduct(r.db.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE owner_id = $1 AND uuid = $2`, owner, id))
	if err != nil {
		return Product{}, store.Wrap("get", store.CollectionProducts, err)
	}
	return p, nil
}

func (r *repository) Insert(ctx context.Context, owner string, product Product) (Product, error) {
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	p, err := scanProduct(r.db.QueryRow(ctx,
		`INSERT INTO products (uuid, owner_id, name, price, stock) VALUES ($1, $2, $3, $4, $5) RETURNING `+productColumns,
		product.ID, owner, product.Name, product.Price, product.Stock))
	if err != nil {
		return Product{}, store.Wrap("insert", store.CollectionProducts, err)
	}
	return p, nil
}

func (r *repository) Update(ctx context.Context, owner string, id uuid.UUID, patch Patch) (Product, error) {
	p, err := scanProduct(r.db.QueryRow(ctx, `UPDATE products
		SET name = COALESCE($3, name),
		    price = COALESCE($4, price),
		    stock = COALESCE($5, stock),
		    updated_at = NOW()
		WHERE owner_id = $1 AND uuid = $2
		RETURNING `+productColumns,
		owner, id, patch.Name, patch.Price, patch.Stock))
	if err != nil {
		return Product{}, store.Wrap("update", store.CollectionProducts, err)
	}
	return p, nil
}

func (r *repository) Delete(ctx context.Context, owner string, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM products WHERE owner_id = $1 AND uuid = $2`, owner, id)
	if err != nil {
		return store.Wrap("delete", store.CollectionProducts, err)
	}
	if tag.RowsAffected() == 0 {
		return store.NotFound("delete", store.CollectionProducts)
	}
	return nil
}
