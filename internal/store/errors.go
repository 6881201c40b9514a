// Package store holds the pieces shared by every record collection: the
// connection contract, the typed store error and blob storage.
package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/invoicedesk/invoicedesk/internal/platform/httpx"
)

// Collection names used in errors and audit records.
const (
	CollectionProducts  = "products"
	CollectionInvoices  = "invoices"
	CollectionProfiles  = "profiles"
	CollectionMovements = "stock_movements"
	CollectionBlobs     = "blobs"
)

// Error is returned by every store operation. Message carries the remote
// message (database or blob backend) verbatim.
type Error struct {
	Op         string
	Collection string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("store: %s %s: %v", e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("store: %s %s: %s", e.Op, e.Collection, e.Message)
}

// Unwrap returns the classified cause so errors.Is works against httpx sentinels.
func (e *Error) Unwrap() error { return e.Err }

// Wrap classifies err. Nil stays nil.
func Wrap(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return err
	}
	out := &Error{Op: op, Collection: collection, Err: err, Message: err.Error()}
	if errors.Is(err, pgx.ErrNoRows) {
		out.Err = httpx.ErrNotFound
		out.Message = collection + " record not found"
		return out
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		out.Message = pgErr.Message
		switch pgErr.Code {
		case "23505":
			out.Err = fmt.Errorf("%w: %s", httpx.ErrDuplicate, pgErr.ConstraintName)
		case "23502", "23514", "22P02":
			out.Err = fmt.Errorf("%w: %s", httpx.ErrValidation, pgErr.Message)
		case "23503":
			out.Err = fmt.Errorf("%w: %s", httpx.ErrConflict, pgErr.ConstraintName)
		case "40001", "40P01":
			out.Message = "concurrent update, retry the request"
			out.Err = fmt.Errorf("%w: %s", httpx.ErrConflict, pgErr.Message)
		}
	}
	return out
}

// WrapTx classifies driver errors that escape a transaction, such as a
// serialization failure at commit. Domain errors returned by the callback
// pass through untouched.
func WrapTx(op, collection string, err error) error {
	var pgErr *pgconn.PgError
	if err == nil || !errors.As(err, &pgErr) {
		return err
	}
	return Wrap(op, collection, err)
}

// NotFound builds the error returned when an owner-scoped lookup matched nothing.
func NotFound(op, collection string) error {
	return &Error{Op: op, Collection: collection, Message: collection + " record not found", Err: httpx.ErrNotFound}
}
