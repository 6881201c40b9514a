package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskInvoiceDocument renders and stores the PDF of a finalized invoice.
	TaskInvoiceDocument = "invoice:document"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"

	// DefaultKeyRetention is how long idempotency keys are kept.
	DefaultKeyRetention = 72 * time.Hour
)

// InvoiceDocumentPayload identifies the invoice whose document is rendered.
type InvoiceDocumentPayload struct {
	OwnerID   string `json:"owner_id"`
	InvoiceID string `json:"invoice_id"`
}

// NewInvoiceDocumentTask constructs the document task. The task id is derived
// from the invoice so a duplicate enqueue is rejected by the queue.
func NewInvoiceDocumentTask(owner string, invoiceID uuid.UUID) (*asynq.Task, error) {
	if owner == "" || invoiceID == uuid.Nil {
		return nil, fmt.Errorf("jobs: invoice document task requires owner and invoice id")
	}
	data, err := json.Marshal(InvoiceDocumentPayload{OwnerID: owner, InvoiceID: invoiceID.String()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInvoiceDocument, data,
		asynq.TaskID(TaskInvoiceDocument+":"+invoiceID.String()),
		asynq.MaxRetry(5),
		asynq.Timeout(2*time.Minute),
		asynq.Queue(QueueDefault),
	), nil
}

// IdempotencyCleanupPayload configures the cleanup run.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// Retention resolves the configured retention, falling back to DefaultKeyRetention.
func (p IdempotencyCleanupPayload) Retention() time.Duration {
	if p.RetentionHours <= 0 {
		return DefaultKeyRetention
	}
	return time.Duration(p.RetentionHours) * time.Hour
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: int(retention / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data, asynq.MaxRetry(1), asynq.Queue(QueueDefault)), nil
}
