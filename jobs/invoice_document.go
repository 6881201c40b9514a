package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/invoicedesk/invoicedesk/internal/jobs"
	"github.com/invoicedesk/invoicedesk/internal/platform/httpx"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// DocumentStorer renders an invoice PDF and stores it, returning its URL.
type DocumentStorer interface {
	StoreDocument(ctx context.Context, owner string, id uuid.UUID) (string, error)
}

// InvoiceDocumentJob persists the PDF of a finalized invoice to blob storage.
type InvoiceDocumentJob struct {
	Invoices DocumentStorer
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewInvoiceDocumentJob wires dependencies for the document handler.
func NewInvoiceDocumentJob(invoices DocumentStorer, logger *slog.Logger, metrics *jobmetrics.Metrics) *InvoiceDocumentJob {
	return &InvoiceDocumentJob{Invoices: invoices, Logger: logger, Metrics: metrics}
}

// Handle processes invoice document tasks.
func (j *InvoiceDocumentJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Invoices == nil {
		return errors.New("invoice document: handler not configured")
	}
	var payload InvoiceDocumentPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invoice document: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	id, err := uuid.Parse(payload.InvoiceID)
	if err != nil || payload.OwnerID == "" {
		return fmt.Errorf("invoice document: invalid payload: %w", asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskInvoiceDocument)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("invoice_id", id.String()))
	url, err := j.Invoices.StoreDocument(ctx, payload.OwnerID, id)
	switch {
	case errors.Is(err, httpx.ErrNotFound):
		// Deleted before the worker got to it.
		logger.Info("invoice gone, skipping document")
		j.metrics().DocumentRendered("skipped")
		return nil
	case err != nil:
		logger.Error("store invoice document", slog.Any("error", err))
		j.metrics().DocumentRendered("failed")
		return err
	}
	j.metrics().DocumentRendered("stored")
	logger.Info("stored invoice document", slog.String("url", url))
	return nil
}

func (j *InvoiceDocumentJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskInvoiceDocument))
	}
	return slog.Default().With(slog.String("job", TaskInvoiceDocument))
}

func (j *InvoiceDocumentJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
