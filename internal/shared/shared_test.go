package shared

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/invoicedesk/invoicedesk/internal/platform/httpx"
)

type execCall struct {
	sql  string
	args []any
}

type fakeExec struct {
	calls []execCall
	err   error
	rows  int64
}

func (f *fakeExec) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	return pgconn.NewCommandTag("DELETE " + strconv.FormatInt(f.rows, 10)), nil
}

func TestIdempotencyDuplicateMapsToConflict(t *testing.T) {
	db := &fakeExec{err: &pgconn.PgError{Code: "23505"}}
	store := NewIdempotencyStore(db)

	err := store.CheckAndInsert(context.Background(), ScopedKey("owner-1", "abc"), "invoices")
	require.ErrorIs(t, err, ErrIdempotencyConflict)
	require.ErrorIs(t, err, httpx.ErrConflict)
	require.Equal(t, "owner-1:abc", db.calls[0].args[0])
}

func TestIdempotencyPassesThroughOtherErrors(t *testing.T) {
	boom := errors.New("connection reset")
	store := NewIdempotencyStore(&fakeExec{err: boom})

	err := store.CheckAndInsert(context.Background(), "k", "invoices")
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, ErrIdempotencyConflict)
}

func TestIdempotencyRequiresKeyAndModule(t *testing.T) {
	store := NewIdempotencyStore(&fakeExec{})
	require.Error(t, store.CheckAndInsert(context.Background(), "", "invoices"))
	require.Error(t, store.CheckAndInsert(context.Background(), "k", ""))
}

func TestIdempotencyCleanupReportsRows(t *testing.T) {
	db := &fakeExec{rows: 3}
	n, err := NewIdempotencyStore(db).Cleanup(context.Background(), 72*time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
	cutoff, ok := db.calls[0].args[0].(time.Time)
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(-72*time.Hour), cutoff, time.Minute)
}

func TestAuditRecordValidatesAndMarshalsMeta(t *testing.T) {
	db := &fakeExec{}
	logger := NewAuditLogger(db)

	require.Error(t, logger.Record(context.Background(), AuditLog{Action: "invoice.finalize"}))

	err := logger.Record(context.Background(), AuditLog{
		ActorID:  "user_1",
		Action:   "invoice.finalize",
		Entity:   "invoice",
		EntityID: "42",
		Meta:     map[string]any{"total": 34.98},
	})
	require.NoError(t, err)
	require.Len(t, db.calls, 1)
	require.JSONEq(t, `{"total":34.98}`, string(db.calls[0].args[4].([]byte)))
	require.Nil(t, db.calls[0].args[5])
}
