package invoices

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/invoicedesk/invoicedesk/internal/platform/httpx"
	"github.com/invoicedesk/invoicedesk/internal/products"
	"github.com/invoicedesk/invoicedesk/internal/shared"
	"github.com/invoicedesk/invoicedesk/internal/store"
)

type movement struct {
	owner     string
	productID uuid.UUID
	delta     int
	balance   int
	reference string
}

// memoryStore mirrors the SQL semantics: conditional stock updates and a
// transaction that restores every table when fn fails.
type memoryStore struct {
	mu        sync.Mutex
	products  map[uuid.UUID]products.Product
	invoices  map[uuid.UUID]Invoice
	keys      map[uuid.UUID]int64
	movements []movement
	nextKey   int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		products: map[uuid.UUID]products.Product{},
		invoices: map[uuid.UUID]Invoice{},
		keys:     map[uuid.UUID]int64{},
	}
}

func (m *memoryStore) addProduct(owner string, id uuid.UUID, name string, price float64, stock int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[id] = products.Product{ID: id, OwnerID: owner, Name: name, Price: price, Stock: stock}
}

func (m *memoryStore) stock(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Stock
}

func (m *memoryStore) WithTx(_ context.Context, fn func(TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	savedProducts := make(map[uuid.UUID]products.Product, len(m.products))
	for k, v := range m.products {
		savedProducts[k] = v
	}
	savedInvoices := make(map[uuid.UUID]Invoice, len(m.invoices))
	for k, v := range m.invoices {
		savedInvoices[k] = v
	}
	savedKeys := make(map[uuid.UUID]int64, len(m.keys))
	for k, v := range m.keys {
		savedKeys[k] = v
	}
	savedMovements := append([]movement(nil), m.movements...)

	if err := fn(&memoryTx{m: m}); err != nil {
		m.products, m.invoices, m.keys, m.movements = savedProducts, savedInvoices, savedKeys, savedMovements
		return err
	}
	return nil
}

func (m *memoryStore) List(_ context.Context, owner string) ([]Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Invoice, 0)
	for _, inv := range m.invoices {
		if inv.OwnerID == owner {
			inv.Lines = nil
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memoryStore) Get(_ context.Context, owner string, id uuid.UUID) (Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok || inv.OwnerID != owner {
		return Invoice{}, store.NotFound("get", store.CollectionInvoices)
	}
	return inv, nil
}

func (m *memoryStore) UpdateStatus(_ context.Context, owner string, id uuid.UUID, from, to Status) (Invoice, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok || inv.OwnerID != owner || inv.Status != from {
		return Invoice{}, false, nil
	}
	inv.Status = to
	m.invoices[id] = inv
	return inv, true, nil
}

func (m *memoryStore) setStatus(id uuid.UUID, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv := m.invoices[id]
	inv.Status = status
	m.invoices[id] = inv
}

func (m *memoryStore) Delete(_ context.Context, owner string, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok || inv.OwnerID != owner {
		return store.NotFound("delete", store.CollectionInvoices)
	}
	delete(m.invoices, id)
	return nil
}

func (m *memoryStore) SetFileURL(_ context.Context, owner string, id uuid.UUID, url string) (Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok || inv.OwnerID != owner {
		return Invoice{}, store.NotFound("update", store.CollectionInvoices)
	}
	inv.FileURL = &url
	m.invoices[id] = inv
	return inv, nil
}

func (m *memoryStore) SetDocumentURL(_ context.Context, owner string, id uuid.UUID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok || inv.OwnerID != owner {
		return store.NotFound("update", store.CollectionInvoices)
	}
	inv.DocumentURL = &url
	m.invoices[id] = inv
	return nil
}

type memoryTx struct {
	m *memoryStore
}

func (t *memoryTx) InsertInvoice(_ context.Context, owner string, inv Invoice) (int64, error) {
	t.m.nextKey++
	inv.OwnerID = owner
	inv.Lines = nil
	t.m.invoices[inv.ID] = inv
	t.m.keys[inv.ID] = t.m.nextKey
	return t.m.nextKey, nil
}

func (t *memoryTx) InsertLine(_ context.Context, key int64, line Line) error {
	for id, k := range t.m.keys {
		if k == key {
			inv := t.m.invoices[id]
			inv.Lines = append(inv.Lines, line)
			t.m.invoices[id] = inv
			return nil
		}
	}
	return errors.New("unknown invoice key")
}

func (t *memoryTx) DecrementStock(_ context.Context, owner string, id uuid.UUID, qty int) (int, bool, error) {
	p, ok := t.m.products[id]
	if !ok || p.OwnerID != owner || p.Stock < qty {
		return 0, false, nil
	}
	p.Stock -= qty
	t.m.products[id] = p
	return p.Stock, true, nil
}

func (t *memoryTx) StockLevel(_ context.Context, owner string, id uuid.UUID) (int, bool, error) {
	p, ok := t.m.products[id]
	if !ok || p.OwnerID != owner {
		return 0, false, nil
	}
	return p.Stock, true, nil
}

func (t *memoryTx) InsertMovement(_ context.Context, owner string, id uuid.UUID, delta, balance int, reference string) error {
	t.m.movements = append(t.m.movements, movement{owner: owner, productID: id, delta: delta, balance: balance, reference: reference})
	return nil
}

// staleLookup serves product reads from its own map so tests can model a
// catalog read that raced with another session.
type staleLookup struct {
	items map[uuid.UUID]products.Product
}

func (s staleLookup) Get(_ context.Context, owner string, id uuid.UUID) (products.Product, error) {
	p, ok := s.items[id]
	if !ok || p.OwnerID != owner {
		return products.Product{}, store.NotFound("get", store.CollectionProducts)
	}
	return p, nil
}

type liveLookup struct{ m *memoryStore }

func (l liveLookup) Get(_ context.Context, owner string, id uuid.UUID) (products.Product, error) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	p, ok := l.m.products[id]
	if !ok || p.OwnerID != owner {
		return products.Product{}, store.NotFound("get", store.CollectionProducts)
	}
	return p, nil
}

type memoryKeys struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (k *memoryKeys) CheckAndInsert(_ context.Context, key, _ string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.keys == nil {
		k.keys = map[string]bool{}
	}
	if k.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	k.keys[key] = true
	return nil
}

func (k *memoryKeys) Delete(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.keys, key)
	return nil
}

type recorder struct {
	mu       sync.Mutex
	audits   []shared.AuditLog
	bumps    int
	enqueued []uuid.UUID
}

func (r *recorder) Record(_ context.Context, log shared.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, log)
	return nil
}

func (r *recorder) Bump(context.Context, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bumps++
	return nil
}

func (r *recorder) EnqueueInvoiceDocument(_ context.Context, _ string, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enqueued = append(r.enqueued, id)
	return nil
}

type fakeCorrector struct {
	got json.RawMessage
}

func (f *fakeCorrector) Correct(_ context.Context, in json.RawMessage) (json.RawMessage, error) {
	f.got = in
	return json.RawMessage(`{"corrected":true}`), nil
}

const owner = "user_owner"

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store *memoryStore
	keys  *memoryKeys
	rec   *recorder
	svc   *Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := newMemoryStore()
	st.addProduct(owner, widgetID, "Widget", 9.99, 5)
	st.addProduct(owner, gadgetID, "Gadget", 15.00, 1)
	keys := &memoryKeys{}
	rec := &recorder{}
	svc := NewService(st, Deps{
		Products:    liveLookup{m: st},
		Idempotency: keys,
		Audit:       rec,
		Cache:       rec,
		Queue:       rec,
		Blobs:       store.NewLocalBlobStore(t.TempDir(), "http://localhost/files"),
		Now:         func() time.Time { return fixedNow },
	})
	return fixture{store: st, keys: keys, rec: rec, svc: svc}
}

func exampleRequest() FinalizeRequest {
	return FinalizeRequest{
		ClientName:  "Acme Corp",
		ClientEmail: "billing@acme.test",
		Lines: []LineRequest{
			{ProductID: widgetID.String(), Quantity: 2},
			{ProductID: gadgetID.String(), Quantity: 1},
		},
	}
}

func TestFinalizeCommitsInvoiceAndStock(t *testing.T) {
	f := newFixture(t)

	receipt, err := f.svc.Finalize(context.Background(), owner, exampleRequest(), "")
	require.NoError(t, err)

	inv := receipt.Invoice
	require.InDelta(t, 34.98, inv.Total, 1e-9)
	require.Equal(t, StatusPending, inv.Status)
	require.Equal(t, Number(fixedNow), inv.Number)
	require.Len(t, inv.Lines, 2)
	require.Equal(t, "Widget", inv.Lines[0].Description)

	require.Equal(t, 3, f.store.stock(widgetID))
	require.Equal(t, 0, f.store.stock(gadgetID))
	require.Len(t, f.store.movements, 2)
	require.Equal(t, -2, f.store.movements[0].delta)
	require.Equal(t, 3, f.store.movements[0].balance)
	require.Equal(t, inv.ID.String(), f.store.movements[0].reference)

	require.NotNil(t, receipt.Document)
	require.NoError(t, receipt.DocumentErr)
	require.True(t, bytes.HasPrefix(receipt.Document.Bytes, []byte("%PDF")))

	require.Equal(t, []uuid.UUID{inv.ID}, f.rec.enqueued)
	require.Equal(t, 1, f.rec.bumps)
	require.Len(t, f.rec.audits, 1)
	require.Equal(t, "invoice.finalize", f.rec.audits[0].Action)
}

func TestFinalizeRollsBackWhenStockRaced(t *testing.T) {
	f := newFixture(t)
	// The catalog read saw a gadget in stock, another session sold it since.
	stale := staleLookup{items: map[uuid.UUID]products.Product{
		widgetID: {ID: widgetID, OwnerID: owner, Name: "Widget", Price: 9.99, Stock: 5},
		gadgetID: {ID: gadgetID, OwnerID: owner, Name: "Gadget", Price: 15, Stock: 1},
	}}
	f.svc.products = stale
	f.store.addProduct(owner, gadgetID, "Gadget", 15.00, 0)

	_, err := f.svc.Finalize(context.Background(), owner, exampleRequest(), "retry-1")
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.ErrorIs(t, err, httpx.ErrConflict)
	require.Equal(t, 1, stockErr.Line)
	require.Equal(t, gadgetID, stockErr.ProductID)
	require.Equal(t, 0, stockErr.Available)

	require.Equal(t, 5, f.store.stock(widgetID), "first line must be rolled back")
	require.Empty(t, f.store.invoices)
	require.Empty(t, f.store.movements)
	require.Empty(t, f.keys.keys, "idempotency key released after failure")
	require.Empty(t, f.rec.enqueued)
}

func TestFinalizeRejectsSoldOutProduct(t *testing.T) {
	f := newFixture(t)
	f.store.addProduct(owner, widgetID, "Widget", 9.99, 0)

	_, err := f.svc.Finalize(context.Background(), owner, exampleRequest(), "")
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, 0, stockErr.Line)
	require.Equal(t, 0, stockErr.Available)
	require.Equal(t, "Widget", stockErr.Description)
	require.Empty(t, f.store.invoices)
}

func TestFinalizeRejectsQuantityAboveObservedStock(t *testing.T) {
	f := newFixture(t)
	req := exampleRequest()
	req.Lines[0].Quantity = 6

	_, err := f.svc.Finalize(context.Background(), owner, req, "")
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, 0, stockErr.Line)
	require.Equal(t, 6, stockErr.Requested)
	require.Equal(t, 5, stockErr.Available)
	require.Equal(t, 5, f.store.stock(widgetID))
}

func TestFinalizeUnknownProduct(t *testing.T) {
	f := newFixture(t)
	req := exampleRequest()
	missing := uuid.New()
	req.Lines[1].ProductID = missing.String()

	_, err := f.svc.Finalize(context.Background(), owner, req, "")
	var nf *ProductNotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, 1, nf.Line)
	require.Equal(t, missing, nf.ProductID)
}

func TestFinalizeIsOwnerScoped(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Finalize(context.Background(), "someone_else", exampleRequest(), "")
	var nf *ProductNotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, 5, f.store.stock(widgetID))
}

func TestFinalizeManualLinesAndValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Finalize(context.Background(), owner, FinalizeRequest{ClientName: "Acme"}, "")
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = f.svc.Finalize(context.Background(), owner, FinalizeRequest{
		ClientName: "Acme",
		Lines:      []LineRequest{{Quantity: 1, Price: 5}},
	}, "")
	require.ErrorIs(t, err, httpx.ErrValidation)

	receipt, err := f.svc.Finalize(context.Background(), owner, FinalizeRequest{
		ClientName: "Acme",
		Lines:      []LineRequest{{Description: "Consulting", Quantity: 3, Price: 33.333}},
	}, "")
	require.NoError(t, err)
	require.Nil(t, receipt.Invoice.Lines[0].ProductID)
	require.InDelta(t, 99.99, receipt.Invoice.Total, 1e-9)
	require.Empty(t, f.store.movements)
}

func TestFinalizeReplayConflicts(t *testing.T) {
	f := newFixture(t)
	req := FinalizeRequest{ClientName: "Acme", Lines: []LineRequest{{ProductID: widgetID.String(), Quantity: 1}}}

	_, err := f.svc.Finalize(context.Background(), owner, req, "key-1")
	require.NoError(t, err)
	_, err = f.svc.Finalize(context.Background(), owner, req, "key-1")
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Equal(t, http.StatusConflict, httpx.StatusFor(err))
	require.Equal(t, 4, f.store.stock(widgetID))

	// Same key from another owner is a different request.
	f.store.addProduct("other", gadgetID, "Gadget", 15, 3)
	_, err = f.svc.Finalize(context.Background(), "other", FinalizeRequest{ClientName: "B", Lines: []LineRequest{{ProductID: gadgetID.String(), Quantity: 1}}}, "key-1")
	require.NoError(t, err)
}

func TestToggleStatusIsIdempotent(t *testing.T) {
	f := newFixture(t)
	receipt, err := f.svc.Finalize(context.Background(), owner, exampleRequest(), "")
	require.NoError(t, err)
	id := receipt.Invoice.ID

	inv, err := f.svc.ToggleStatus(context.Background(), owner, id, StatusPending)
	require.NoError(t, err)
	require.Equal(t, StatusDone, inv.Status)

	inv, err = f.svc.ToggleStatus(context.Background(), owner, id, StatusPending)
	require.NoError(t, err, "repeated toggle settles")
	require.Equal(t, StatusDone, inv.Status)

	inv, err = f.svc.ToggleStatus(context.Background(), owner, id, StatusDone)
	require.NoError(t, err)
	require.Equal(t, StatusPending, inv.Status)

	_, err = f.svc.ToggleStatus(context.Background(), owner, uuid.New(), StatusPending)
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestToggleStatusDoubleSubmitSettlesOnce(t *testing.T) {
	f := newFixture(t)
	receipt, err := f.svc.Finalize(context.Background(), owner, exampleRequest(), "")
	require.NoError(t, err)
	id := receipt.Invoice.ID

	for i := 0; i < 2; i++ {
		inv, err := f.svc.ToggleStatus(context.Background(), owner, id, StatusPending)
		require.NoError(t, err)
		require.Equal(t, StatusDone, inv.Status)
	}

	_, err = f.svc.ToggleStatus(context.Background(), owner, id, "")
	require.ErrorIs(t, err, httpx.ErrValidation)
	inv, err := f.svc.Get(context.Background(), owner, id)
	require.NoError(t, err)
	require.Equal(t, StatusDone, inv.Status)
}

func TestToggleStatusRejectsCancelled(t *testing.T) {
	f := newFixture(t)
	receipt, err := f.svc.Finalize(context.Background(), owner, exampleRequest(), "")
	require.NoError(t, err)
	f.store.setStatus(receipt.Invoice.ID, StatusCancelled)

	_, err = f.svc.ToggleStatus(context.Background(), owner, receipt.Invoice.ID, StatusCancelled)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.svc.ToggleStatus(context.Background(), owner, receipt.Invoice.ID, StatusPending)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, http.StatusUnprocessableEntity, httpx.StatusFor(err))
}

func TestListDeleteAndDocument(t *testing.T) {
	f := newFixture(t)
	first, err := f.svc.Finalize(context.Background(), owner, FinalizeRequest{ClientName: "A", Lines: []LineRequest{{Description: "x", Quantity: 1, Price: 1}}}, "")
	require.NoError(t, err)
	f.svc.now = func() time.Time { return fixedNow.Add(time.Hour) }
	second, err := f.svc.Finalize(context.Background(), owner, FinalizeRequest{ClientName: "B", Lines: []LineRequest{{Description: "y", Quantity: 1, Price: 2}}}, "")
	require.NoError(t, err)

	list, err := f.svc.List(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, second.Invoice.ID, list[0].ID)

	file, err := f.svc.Document(context.Background(), owner, first.Invoice.ID)
	require.NoError(t, err)
	require.Equal(t, first.Document.Name, file.Name)

	require.NoError(t, f.svc.Delete(context.Background(), owner, first.Invoice.ID))
	require.ErrorIs(t, f.svc.Delete(context.Background(), owner, first.Invoice.ID), httpx.ErrNotFound)
}

func TestAttachFileAndStoreDocument(t *testing.T) {
	f := newFixture(t)
	receipt, err := f.svc.Finalize(context.Background(), owner, exampleRequest(), "")
	require.NoError(t, err)
	id := receipt.Invoice.ID

	inv, err := f.svc.AttachFile(context.Background(), owner, id, "Signed Copy.pdf", "application/pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	require.NotNil(t, inv.FileURL)
	require.Contains(t, *inv.FileURL, "http://localhost/files/invoice-files/")
	require.Contains(t, *inv.FileURL, "signed-copy.pdf")

	url, err := f.svc.StoreDocument(context.Background(), owner, id)
	require.NoError(t, err)
	require.Contains(t, url, "invoice-documents")
	stored, err := f.svc.Get(context.Background(), owner, id)
	require.NoError(t, err)
	require.Equal(t, url, *stored.DocumentURL)

	_, err = f.svc.AttachFile(context.Background(), "intruder", id, "a.pdf", "application/pdf", []byte("x"))
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestCorrectForwardsInvoiceJSON(t *testing.T) {
	f := newFixture(t)
	receipt, err := f.svc.Finalize(context.Background(), owner, exampleRequest(), "")
	require.NoError(t, err)

	_, err = f.svc.Correct(context.Background(), owner, receipt.Invoice.ID)
	require.ErrorIs(t, err, httpx.ErrUnavailable)

	corrector := &fakeCorrector{}
	f.svc.corrector = corrector
	out, err := f.svc.Correct(context.Background(), owner, receipt.Invoice.ID)
	require.NoError(t, err)
	require.JSONEq(t, `{"corrected":true}`, string(out))
	require.Contains(t, string(corrector.got), receipt.Invoice.Number)

	_, err = f.svc.CorrectRaw(context.Background(), json.RawMessage(`{bad`))
	require.ErrorIs(t, err, httpx.ErrValidation)
}
