package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/invoicedesk/invoicedesk/internal/jobs"
	"github.com/invoicedesk/invoicedesk/internal/platform/httpx"
)

type fakeStorer struct {
	url   string
	err   error
	owner string
	id    uuid.UUID
}

func (f *fakeStorer) StoreDocument(_ context.Context, owner string, id uuid.UUID) (string, error) {
	f.owner, f.id = owner, id
	return f.url, f.err
}

type fakePurger struct {
	purged    int64
	err       error
	retention time.Duration
}

func (f *fakePurger) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	f.retention = olderThan
	return f.purged, f.err
}

func testMetrics() *jobmetrics.Metrics {
	return jobmetrics.NewMetrics(prometheus.NewRegistry())
}

func TestNewInvoiceDocumentTask(t *testing.T) {
	id := uuid.New()
	task, err := NewInvoiceDocumentTask("owner-a", id)
	require.NoError(t, err)
	require.Equal(t, TaskInvoiceDocument, task.Type())

	var payload InvoiceDocumentPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, "owner-a", payload.OwnerID)
	require.Equal(t, id.String(), payload.InvoiceID)

	_, err = NewInvoiceDocumentTask("", id)
	require.Error(t, err)
	_, err = NewInvoiceDocumentTask("owner-a", uuid.Nil)
	require.Error(t, err)
}

func TestInvoiceDocumentJobStores(t *testing.T) {
	id := uuid.New()
	storer := &fakeStorer{url: "/files/invoice-documents/owner-a/x.pdf"}
	job := NewInvoiceDocumentJob(storer, nil, testMetrics())

	task, err := NewInvoiceDocumentTask("owner-a", id)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, "owner-a", storer.owner)
	require.Equal(t, id, storer.id)
}

func TestInvoiceDocumentJobSkipsDeletedInvoice(t *testing.T) {
	storer := &fakeStorer{err: fmt.Errorf("%w: invoice gone", httpx.ErrNotFound)}
	job := NewInvoiceDocumentJob(storer, nil, testMetrics())

	task, err := NewInvoiceDocumentTask("owner-a", uuid.New())
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
}

func TestInvoiceDocumentJobRetriesOnFailure(t *testing.T) {
	boom := errors.New("blob store down")
	job := NewInvoiceDocumentJob(&fakeStorer{err: boom}, nil, testMetrics())

	task, err := NewInvoiceDocumentTask("owner-a", uuid.New())
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestInvoiceDocumentJobRejectsBadPayload(t *testing.T) {
	job := NewInvoiceDocumentJob(&fakeStorer{}, nil, testMetrics())

	for _, raw := range []string{`not json`, `{"owner_id":"o","invoice_id":"nope"}`, `{"invoice_id":"` + uuid.NewString() + `"}`} {
		err := job.Handle(context.Background(), asynq.NewTask(TaskInvoiceDocument, []byte(raw)))
		require.ErrorIs(t, err, asynq.SkipRetry, raw)
	}
}

func TestIdempotencyCleanupJob(t *testing.T) {
	purger := &fakePurger{purged: 7}
	job := NewIdempotencyCleanupJob(purger, nil, testMetrics())

	task, err := NewIdempotencyCleanupTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 48*time.Hour, purger.retention)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.Equal(t, DefaultKeyRetention, purger.retention)

	purger.err = errors.New("db down")
	require.Error(t, job.Handle(context.Background(), task))
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	router := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":0,"active":0,"retry":0,"archived":0,"processed":0,"failed":0}`, rec.Body.String())
}
