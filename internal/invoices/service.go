package invoices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/invoicedesk/invoicedesk/internal/document"
	"github.com/invoicedesk/invoicedesk/internal/platform/httpx"
	"github.com/invoicedesk/invoicedesk/internal/products"
	"github.com/invoicedesk/invoicedesk/internal/shared"
	"github.com/invoicedesk/invoicedesk/internal/store"
)

const (
	idempotencyModule = "invoices.finalize"
	blobBucketFiles   = "invoice-files"
	blobBucketDocs    = "invoice-documents"
)

// ProductLookup resolves catalog products for finalize.
type ProductLookup interface {
	Get(ctx context.Context, owner string, id uuid.UUID) (products.Product, error)
}

// IdempotencyStore guards against double submission.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// AuditLogger records mutations.
type AuditLogger interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Invalidator drops cached dashboard aggregates for an owner.
type Invalidator interface {
	Bump(ctx context.Context, owner string) error
}

// DocumentQueue schedules background rendering and storage of a document.
type DocumentQueue interface {
	EnqueueInvoiceDocument(ctx context.Context, owner string, invoiceID uuid.UUID) error
}

// Corrector sends invoice JSON to the correction service and returns its answer verbatim.
type Corrector interface {
	Correct(ctx context.Context, invoice json.RawMessage) (json.RawMessage, error)
}

// Deps groups the optional collaborators of the service.
type Deps struct {
	Products    ProductLookup
	Idempotency IdempotencyStore
	Audit       AuditLogger
	Cache       Invalidator
	Queue       DocumentQueue
	Blobs       store.BlobStore
	Corrector   Corrector
	Logger      *slog.Logger
	Now         func() time.Time
}

// Service implements invoice operations.
type Service struct {
	repo        Repository
	products    ProductLookup
	idempotency IdempotencyStore
	audit       AuditLogger
	cache       Invalidator
	queue       DocumentQueue
	blobs       store.BlobStore
	corrector   Corrector
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs the invoices service.
func NewService(repo Repository, deps Deps) *Service {
	s := &Service{
		repo:        repo,
		products:    deps.Products,
		idempotency: deps.Idempotency,
		audit:       deps.Audit,
		cache:       deps.Cache,
		queue:       deps.Queue,
		blobs:       deps.Blobs,
		corrector:   deps.Corrector,
		logger:      deps.Logger,
		now:         deps.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Receipt is the outcome of a successful finalize. DocumentErr is set when
// the invoice was stored but its document could not be rendered.
type Receipt struct {
	Invoice     Invoice
	Document    *document.File
	DocumentErr error
}

// BuildDraft replays a finalize request onto a draft using the catalog.
func BuildDraft(req FinalizeRequest, catalog Catalog) (*Draft, error) {
	d := &Draft{ClientName: strings.TrimSpace(req.ClientName), ClientEmail: strings.TrimSpace(req.ClientEmail)}
	for i, lr := range req.Lines {
		if lr.ProductID == "" {
			idx := d.AddLine(KindManual)
			if err := d.SetManual(idx, strings.TrimSpace(lr.Description), document.RoundCents(lr.Price)); err != nil {
				return nil, err
			}
			if err := d.SetQuantity(idx, lr.Quantity); err != nil {
				return nil, err
			}
			continue
		}
		id, err := uuid.Parse(lr.ProductID)
		if err != nil {
			return nil, fmt.Errorf("%w: lines[%d].productId must be a uuid", httpx.ErrValidation, i)
		}
		idx := d.AddLine(KindCatalog)
		if err := d.SelectProduct(idx, id, catalog); err != nil {
			switch {
			case errors.Is(err, ErrUnknownProduct):
				return nil, &ProductNotFoundError{Line: i, ProductID: id}
			case errors.Is(err, ErrOutOfStock):
				p, _ := catalog.Lookup(id)
				return nil, &InsufficientStockError{
					Line:        i,
					ProductID:   id,
					Description: p.Name,
					Requested:   lr.Quantity,
					Available:   max(p.Stock, 0),
				}
			}
			return nil, err
		}
		if err := d.SetQuantity(idx, lr.Quantity); err != nil {
			if errors.Is(err, ErrQuantityExceedsStock) {
				return nil, &InsufficientStockError{
					Line:        i,
					ProductID:   id,
					Description: d.Lines[idx].Description,
					Requested:   lr.Quantity,
					Available:   d.Lines[idx].Available,
				}
			}
			return nil, err
		}
	}
	return d, nil
}

func (s *Service) catalogFor(ctx context.Context, owner string, req FinalizeRequest) (Catalog, error) {
	catalog := CatalogSnapshot{}
	for i, lr := range req.Lines {
		if lr.ProductID == "" {
			continue
		}
		id, err := uuid.Parse(lr.ProductID)
		if err != nil {
			return nil, fmt.Errorf("%w: lines[%d].productId must be a uuid", httpx.ErrValidation, i)
		}
		if _, seen := catalog[id]; seen {
			continue
		}
		if s.products == nil {
			return nil, errors.New("invoices: product lookup not configured")
		}
		p, err := s.products.Get(ctx, owner, id)
		if errors.Is(err, httpx.ErrNotFound) {
			return nil, &ProductNotFoundError{Line: i, ProductID: id}
		}
		if err != nil {
			return nil, err
		}
		catalog[id] = CatalogProduct{ID: p.ID, Name: p.Name, Price: p.Price, Stock: p.Stock}
	}
	return catalog, nil
}

// Finalize persists the invoice and decrements stock in one transaction.
// Either every line is applied or nothing is.
func (s *Service) Finalize(ctx context.Context, owner string, req FinalizeRequest, idempotencyKey string) (Receipt, error) {
	if err := httpx.Validate(req); err != nil {
		return Receipt{}, err
	}
	catalog, err := s.catalogFor(ctx, owner, req)
	if err != nil {
		return Receipt{}, err
	}
	draft, err := BuildDraft(req, catalog)
	if err != nil {
		return Receipt{}, err
	}
	if err := draft.Validate(); err != nil {
		return Receipt{}, err
	}

	scopedKey := ""
	if idempotencyKey = strings.TrimSpace(idempotencyKey); idempotencyKey != "" && s.idempotency != nil {
		scopedKey = shared.ScopedKey(owner, idempotencyKey)
		if err := s.idempotency.CheckAndInsert(ctx, scopedKey, idempotencyModule); err != nil {
			return Receipt{}, err
		}
	}

	now := s.now().UTC()
	inv := Invoice{
		ID:          uuid.New(),
		OwnerID:     owner,
		Number:      Number(now),
		ClientName:  draft.ClientName,
		ClientEmail: draft.ClientEmail,
		Total:       draft.Total(),
		Status:      StatusPending,
		CreatedAt:   now,
		Lines:       make([]Line, 0, len(draft.Lines)),
	}
	for i, dl := range draft.Lines {
		line := Line{
			Position:    i,
			Description: dl.Description,
			Quantity:    dl.Quantity,
			UnitPrice:   dl.UnitPrice,
			LineTotal:   dl.Amount(),
		}
		if dl.Kind == KindCatalog {
			pid := dl.ProductID
			line.ProductID = &pid
		}
		inv.Lines = append(inv.Lines, line)
	}

	err = s.repo.WithTx(ctx, func(tx TxRepository) error {
		key, err := tx.InsertInvoice(ctx, owner, inv)
		if err != nil {
			return err
		}
		for i, line := range inv.Lines {
			if err := tx.InsertLine(ctx, key, line); err != nil {
				return err
			}
			if line.ProductID == nil {
				continue
			}
			balance, ok, err := tx.DecrementStock(ctx, owner, *line.ProductID, line.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				available, found, err := tx.StockLevel(ctx, owner, *line.ProductID)
				if err != nil {
					return err
				}
				if !found {
					return &ProductNotFoundError{Line: i, ProductID: *line.ProductID}
				}
				return &InsufficientStockError{
					Line:        i,
					ProductID:   *line.ProductID,
					Description: line.Description,
					Requested:   line.Quantity,
					Available:   available,
				}
			}
			if err := tx.InsertMovement(ctx, owner, *line.ProductID, -line.Quantity, balance, inv.ID.String()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if scopedKey != "" {
			if delErr := s.idempotency.Delete(ctx, scopedKey); delErr != nil {
				s.logger.Warn("release idempotency key failed", slog.String("key", scopedKey), slog.Any("error", delErr))
			}
		}
		return Receipt{}, err
	}

	s.record(ctx, owner, "invoice.finalize", inv.ID, map[string]any{"number": inv.Number, "total": inv.Total, "lines": len(inv.Lines)})
	s.invalidate(ctx, owner)
	if s.queue != nil {
		if err := s.queue.EnqueueInvoiceDocument(ctx, owner, inv.ID); err != nil {
			s.logger.Warn("enqueue invoice document failed", slog.String("invoice", inv.ID.String()), slog.Any("error", err))
		}
	}

	receipt := Receipt{Invoice: inv}
	file, err := document.Render(inv.DocumentInput())
	if err != nil {
		s.logger.Error("render invoice document failed", slog.String("invoice", inv.ID.String()), slog.Any("error", err))
		receipt.DocumentErr = err
	} else {
		receipt.Document = &file
	}
	return receipt, nil
}

// List returns the owner's invoices, newest first.
func (s *Service) List(ctx context.Context, owner string) ([]Invoice, error) {
	return s.repo.List(ctx, owner)
}

// Get returns one invoice with its lines.
func (s *Service) Get(ctx context.Context, owner string, id uuid.UUID) (Invoice, error) {
	return s.repo.Get(ctx, owner, id)
}

// Delete removes an invoice. Stock consumed by it is not restored.
func (s *Service) Delete(ctx context.Context, owner string, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, owner, id); err != nil {
		return err
	}
	s.record(ctx, owner, "invoice.delete", id, nil)
	s.invalidate(ctx, owner)
	return nil
}

// ToggleStatus flips pending and done. expected is the status the caller
// saw; the update only applies while the invoice still has it. A repeat of
// a toggle that already happened returns the invoice unchanged.
func (s *Service) ToggleStatus(ctx context.Context, owner string, id uuid.UUID, expected Status) (Invoice, error) {
	if expected == "" {
		return Invoice{}, fmt.Errorf("%w: expected status is required", httpx.ErrValidation)
	}
	if !expected.Valid() {
		return Invoice{}, fmt.Errorf("%w: unknown status %q", httpx.ErrValidation, expected)
	}
	target, err := expected.Toggled()
	if err != nil {
		return Invoice{}, err
	}

	inv, ok, err := s.repo.UpdateStatus(ctx, owner, id, expected, target)
	if err != nil {
		return Invoice{}, err
	}
	if ok {
		s.record(ctx, owner, "invoice.status", id, map[string]any{"from": string(expected), "to": string(target)})
		s.invalidate(ctx, owner)
		return inv, nil
	}

	current, err := s.repo.Get(ctx, owner, id)
	if err != nil {
		return Invoice{}, err
	}
	switch current.Status {
	case target:
		return current, nil
	case StatusCancelled:
		return Invoice{}, ErrInvalidTransition
	default:
		return Invoice{}, ErrStatusConflict
	}
}

// AttachFile uploads a user supplied file and records its URL.
func (s *Service) AttachFile(ctx context.Context, owner string, id uuid.UUID, filename, contentType string, data []byte) (Invoice, error) {
	if s.blobs == nil {
		return Invoice{}, fmt.Errorf("%w: blob storage not configured", httpx.ErrUnavailable)
	}
	if _, err := s.repo.Get(ctx, owner, id); err != nil {
		return Invoice{}, err
	}
	url, err := s.blobs.Upload(ctx, blobBucketFiles, store.ObjectPath(store.UniqueFileName(filename), owner, id.String()), data, contentType)
	if err != nil {
		return Invoice{}, err
	}
	inv, err := s.repo.SetFileURL(ctx, owner, id, url)
	if err != nil {
		return Invoice{}, err
	}
	s.record(ctx, owner, "invoice.attach", id, map[string]any{"file": url})
	return inv, nil
}

// Document renders the PDF of a stored invoice.
func (s *Service) Document(ctx context.Context, owner string, id uuid.UUID) (document.File, error) {
	inv, err := s.repo.Get(ctx, owner, id)
	if err != nil {
		return document.File{}, err
	}
	return document.Render(inv.DocumentInput())
}

// StoreDocument renders the PDF, uploads it and records its URL. It is run
// by the background worker after finalize.
func (s *Service) StoreDocument(ctx context.Context, owner string, id uuid.UUID) (string, error) {
	if s.blobs == nil {
		return "", fmt.Errorf("%w: blob storage not configured", httpx.ErrUnavailable)
	}
	file, err := s.Document(ctx, owner, id)
	if err != nil {
		return "", err
	}
	url, err := s.blobs.Upload(ctx, blobBucketDocs, store.ObjectPath(file.Name, owner), file.Bytes, file.ContentType)
	if err != nil {
		return "", err
	}
	if err := s.repo.SetDocumentURL(ctx, owner, id, url); err != nil {
		return "", err
	}
	return url, nil
}

// Correct forwards a stored invoice to the correction service.
func (s *Service) Correct(ctx context.Context, owner string, id uuid.UUID) (json.RawMessage, error) {
	inv, err := s.repo.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(inv)
	if err != nil {
		return nil, fmt.Errorf("invoices: encode correction payload: %w", err)
	}
	return s.CorrectRaw(ctx, payload)
}

// CorrectRaw forwards arbitrary invoice JSON verbatim.
func (s *Service) CorrectRaw(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	if s.corrector == nil {
		return nil, fmt.Errorf("%w: correction service not configured", httpx.ErrUnavailable)
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("%w: invoice must be valid json", httpx.ErrValidation)
	}
	return s.corrector.Correct(ctx, payload)
}

func (s *Service) record(ctx context.Context, owner, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  owner,
		Action:   action,
		Entity:   "invoice",
		EntityID: id.String(),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) invalidate(ctx context.Context, owner string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx, owner); err != nil {
		s.logger.Warn("dashboard cache bump failed", slog.String("owner", owner), slog.Any("error", err))
	}
}
