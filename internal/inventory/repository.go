package inventory

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/invoicedesk/invoicedesk/internal/platform/db"
	"github.com/invoicedesk/invoicedesk/internal/store"
)

// Conn is what the repository needs from the pool.
type Conn interface {
	store.DBTX
	db.Beginner
}

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	conn Conn
}

// NewRepository constructs Repository.
func NewRepository(conn Conn) *Repository {
	return &Repository{conn: conn}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	// GetStockForUpdate locks the product row and returns its surrogate key and stock.
	GetStockForUpdate(ctx context.Context, owner string, productID uuid.UUID) (int64, int, error)
	SetStock(ctx context.Context, productKey int64, stock int) error
	InsertMovement(ctx context.Context, owner string, productKey int64, m Movement) (Movement, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a read-committed transaction. The row
// lock taken by GetStockForUpdate serialises concurrent adjustments.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTxLevel(ctx, r.conn, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
	return store.WrapTx("adjust", store.CollectionProducts, err)
}

// Levels lists the owner's products with their stock, lowest stock first.
func (r *Repository) Levels(ctx context.Context, owner string) ([]Level, error) {
	rows, err := r.conn.Query(ctx, `SELECT uuid, name, price, stock, updated_at
		FROM products WHERE owner_id = $1
		ORDER BY stock ASC, name ASC`, owner)
	if err != nil {
		return nil, store.Wrap("list", store.CollectionProducts, err)
	}
	defer rows.Close()
	levels := make([]Level, 0)
	for rows.Next() {
		var l Level
		if err := rows.Scan(&l.ProductID, &l.Name, &l.Price, &l.Stock, &l.UpdatedAt); err != nil {
			return nil, store.Wrap("list", store.CollectionProducts, err)
		}
		levels = append(levels, l)
	}
	return levels, store.Wrap("list", store.CollectionProducts, rows.Err())
}

// Movements returns the newest ledger entries of a product.
func (r *Repository) Movements(ctx context.Context, owner string, productID uuid.UUID, limit int) ([]Movement, error) {
	rows, err := r.conn.Query(ctx, `SELECT m.id, p.uuid, m.delta, m.balance, m.reason, m.reference, m.created_at
		FROM stock_movements m
		JOIN products p ON p.id = m.product_id
		WHERE m.owner_id = $1 AND p.uuid = $2
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $3`, owner, productID, limit)
	if err != nil {
		return nil, store.Wrap("list", store.CollectionMovements, err)
	}
	defer rows.Close()
	out := make([]Movement, 0)
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Delta, &m.Balance, &m.Reason, &m.Reference, &m.CreatedAt); err != nil {
			return nil, store.Wrap("list", store.CollectionMovements, err)
		}
		out = append(out, m)
	}
	return out, store.Wrap("list", store.CollectionMovements, rows.Err())
}

func (r *txRepo) GetStockForUpdate(ctx context.Context, owner string, productID uuid.UUID) (int64, int, error) {
	var key int64
	var stock int
	err := r.tx.QueryRow(ctx, `SELECT id, stock FROM products WHERE owner_id = $1 AND uuid = $2 FOR UPDATE`, owner, productID).Scan(&key, &stock)
	if err != nil {
		return 0, 0, store.Wrap("lock", store.CollectionProducts, err)
	}
	return key, stock, nil
}

func (r *txRepo) SetStock(ctx context.Context, productKey int64, stock int) error {
	_, err := r.tx.Exec(ctx, `UPDATE products SET stock = $2, updated_at = NOW() WHERE id = $1`, productKey, stock)
	return store.Wrap("update", store.CollectionProducts, err)
}

func (r *txRepo) InsertMovement(ctx context.Context, owner string, productKey int64, m Movement) (Movement, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (product_id, owner_id, delta, balance, reason, reference)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`,
		productKey, owner, m.Delta, m.Balance, m.Reason, m.Reference).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return Movement{}, store.Wrap("insert", store.CollectionMovements, err)
	}
	return m, nil
}
