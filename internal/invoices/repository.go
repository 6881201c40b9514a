package invoices

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/invoicedesk/invoicedesk/internal/platform/db"
	"github.com/invoicedesk/invoicedesk/internal/store"
)

// Repository persists invoices. Every call is scoped by owner.
type Repository interface {
	WithTx(ctx context.Context, fn func(TxRepository) error) error
	List(ctx context.Context, owner string) ([]Invoice, error)
	Get(ctx context.Context, owner string, id uuid.UUID) (Invoice, error)
	UpdateStatus(ctx context.Context, owner string, id uuid.UUID, from, to Status) (Invoice, bool, error)
	Delete(ctx context.Context, owner string, id uuid.UUID) error
	SetFileURL(ctx context.Context, owner string, id uuid.UUID, url string) (Invoice, error)
	SetDocumentURL(ctx context.Context, owner string, id uuid.UUID, url string) error
}

// TxRepository exposes the statements run inside the finalize transaction.
type TxRepository interface {
	InsertInvoice(ctx context.Context, owner string, inv Invoice) (int64, error)
	InsertLine(ctx context.Context, invoiceKey int64, line Line) error
	// DecrementStock subtracts qty when enough stock remains. ok is false
	// when no row matched.
	DecrementStock(ctx context.Context, owner string, productID uuid.UUID, qty int) (balance int, ok bool, err error)
	StockLevel(ctx context.Context, owner string, productID uuid.UUID) (stock int, found bool, err error)
	InsertMovement(ctx context.Context, owner string, productID uuid.UUID, delta, balance int, reference string) error
}

// Conn is what the pgx repository needs from the pool.
type Conn interface {
	store.DBTX
	db.Beginner
}

type repository struct {
	conn Conn
}

// NewRepository returns the pgx backed repository.
func NewRepository(conn Conn) Repository {
	return &repository{conn: conn}
}

const invoiceColumns = `uuid, owner_id, number, client_name, client_email, total, status, file_url, document_url, created_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.OwnerID, &inv.Number, &inv.ClientName, &inv.ClientEmail,
		&inv.Total, &inv.Status, &inv.FileURL, &inv.DocumentURL, &inv.CreatedAt)
	return inv, err
}

// WithTx runs fn at ReadCommitted. DecrementStock's WHERE stock >= qty is
// re-checked against the committed row when it waits on a concurrent finalize.
func (r *repository) WithTx(ctx context.Context, fn func(TxRepository) error) error {
	err := db.WithTxLevel(ctx, r.conn, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(&txRepository{tx: tx})
	})
	return store.WrapTx("finalize", store.CollectionInvoices, err)
}

func (r *repository) List(ctx context.Context, owner string) ([]Invoice, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE owner_id = $1 ORDER BY created_at DESC, id DESC`, owner)
	if err != nil {
		return nil, store.Wrap("list", store.CollectionInvoices, err)
	}
	defer rows.Close()
	out := make([]Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, store.Wrap("list", store.CollectionInvoices, err)
		}
		out = append(out, inv)
	}
	return out, store.Wrap("list", store.CollectionInvoices, rows.Err())
}

func (r *repository) Get(ctx context.Context, owner string, id uuid.UUID) (Invoice, error) {
	inv, err := scanInvoice(r.conn.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE owner_id = $1 AND uuid = $2`, owner, id))
	if err != nil {
		return Invoice{}, store.Wrap("get", store.CollectionInvoices, err)
	}
	rows, err := r.conn.Query(ctx, `SELECT l.position, l.product_uuid, l.description, l.quantity, l.unit_price, l.line_total
		FROM invoice_lines l
		JOIN invoices i ON i.id = l.invoice_id
		WHERE i.owner_id = $1 AND i.uuid = $2
		ORDER BY l.position`, owner, id)
	if err != nil {
		return Invoice{}, store.Wrap("get", store.CollectionInvoices, err)
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.Position, &l.ProductID, &l.Description, &l.Quantity, &l.UnitPrice, &l.LineTotal); err != nil {
			return Invoice{}, store.Wrap("get", store.CollectionInvoices, err)
		}
		inv.Lines = append(inv.Lines, l)
	}
	return inv, store.Wrap("get", store.CollectionInvoices, rows.Err())
}

func (r *repository) UpdateStatus(ctx context.Context, owner string, id uuid.UUID, from, to Status) (Invoice, bool, error) {
	inv, err := scanInvoice(r.conn.QueryRow(ctx, `UPDATE invoices SET status = $4
		WHERE owner_id = $1 AND uuid = $2 AND status = $3
		RETURNING `+invoiceColumns, owner, id, from, to))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, false, nil
	}
	if err != nil {
		return Invoice{}, false, store.Wrap("update", store.CollectionInvoices, err)
	}
	return inv, true, nil
}

func (r *repository) Delete(ctx context.Context, owner string, id uuid.UUID) error {
	tag, err := r.conn.Exec(ctx, `DELETE FROM invoices WHERE owner_id = $1 AND uuid = $2`, owner, id)
	if err != nil {
		return store.Wrap("delete", store.CollectionInvoices, err)
	}
	if tag.RowsAffected() == 0 {
		return store.NotFound("delete", store.CollectionInvoices)
	}
	return nil
}

func (r *repository) SetFileURL(ctx context.Context, owner string, id uuid.UUID, url string) (Invoice, error) {
	inv, err := scanInvoice(r.conn.QueryRow(ctx, `UPDATE invoices SET file_url = $3
		WHERE owner_id = $1 AND uuid = $2 RETURNING `+invoiceColumns, owner, id, url))
	if err != nil {
		return Invoice{}, store.Wrap("update", store.CollectionInvoices, err)
	}
	return inv, nil
}

func (r *repository) SetDocumentURL(ctx context.Context, owner string, id uuid.UUID, url string) error {
	tag, err := r.conn.Exec(ctx, `UPDATE invoices SET document_url = $3 WHERE owner_id = $1 AND uuid = $2`, owner, id, url)
	if err != nil {
		return store.Wrap("update", store.CollectionInvoices, err)
	}
	if tag.RowsAffected() == 0 {
		return store.NotFound("update", store.CollectionInvoices)
	}
	return nil
}

type txRepository struct {
	tx pgx.Tx
}

func (t *txRepository) InsertInvoice(ctx context.Context, owner string, inv Invoice) (int64, error) {
	var key int64
	err := t.tx.QueryRow(ctx, `INSERT INTO invoices (uuid, owner_id, number, client_name, client_email, total, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		inv.ID, owner, inv.Number, inv.ClientName, inv.ClientEmail, inv.Total, inv.Status, inv.CreatedAt).Scan(&key)
	if err != nil {
		return 0, store.Wrap("insert", store.CollectionInvoices, err)
	}
	return key, nil
}

func (t *txRepository) InsertLine(ctx context.Context, invoiceKey int64, line Line) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO invoice_lines (invoice_id, position, product_uuid, description, quantity, unit_price, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		invoiceKey, line.Position, line.ProductID, line.Description, line.Quantity, line.UnitPrice, line.LineTotal)
	return store.Wrap("insert", store.CollectionInvoices, err)
}

func (t *txRepository) DecrementStock(ctx context.Context, owner string, productID uuid.UUID, qty int) (int, bool, error) {
	var balance int
	err := t.tx.QueryRow(ctx, `UPDATE products SET stock = stock - $3, updated_at = NOW()
		WHERE uuid = $1 AND owner_id = $2 AND stock >= $3
		RETURNING stock`, productID, owner, qty).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, store.Wrap("update", store.CollectionProducts, err)
	}
	return balance, true, nil
}

func (t *txRepository) StockLevel(ctx context.Context, owner string, productID uuid.UUID) (int, bool, error) {
	var stock int
	err := t.tx.QueryRow(ctx, `SELECT stock FROM products WHERE uuid = $1 AND owner_id = $2`, productID, owner).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, store.Wrap("get", store.CollectionProducts, err)
	}
	return stock, true, nil
}

func (t *txRepository) InsertMovement(ctx context.Context, owner string, productID uuid.UUID, delta, balance int, reference string) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO stock_movements (product_id, owner_id, delta, balance, reason, reference)
		SELECT id, owner_id, $3, $4, 'invoice', $5 FROM products WHERE uuid = $1 AND owner_id = $2`,
		productID, owner, delta, balance, reference)
	return store.Wrap("insert", store.CollectionMovements, err)
}
