package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/invoicedesk/invoicedesk/internal/auth"
	"github.com/invoicedesk/invoicedesk/internal/platform/httpx"
	"github.com/invoicedesk/invoicedesk/internal/store"
)

type memoryProduct struct {
	key   int64
	owner string
	level Level
}

type memoryRepo struct {
	products  map[uuid.UUID]*memoryProduct
	movements []Movement
	nextID    int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{products: make(map[uuid.UUID]*memoryProduct)}
}

func (r *memoryRepo) add(owner, name string, price float64, stock int) uuid.UUID {
	id := uuid.New()
	r.products[id] = &memoryProduct{
		key:   int64(len(r.products) + 1),
		owner: owner,
		level: Level{ProductID: id, Name: name, Price: price, Stock: stock},
	}
	return id
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	saved := make(map[uuid.UUID]memoryProduct, len(r.products))
	for id, p := range r.products {
		saved[id] = *p
	}
	savedMoves := append([]Movement(nil), r.movements...)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		for id, p := range saved {
			cp := p
			r.products[id] = &cp
		}
		r.movements = savedMoves
		return err
	}
	return nil
}

func (r *memoryRepo) Levels(_ context.Context, owner string) ([]Level, error) {
	out := make([]Level, 0)
	for _, p := range r.products {
		if p.owner == owner {
			out = append(out, p.level)
		}
	}
	return out, nil
}

func (r *memoryRepo) Movements(_ context.Context, _ string, productID uuid.UUID, limit int) ([]Movement, error) {
	out := make([]Movement, 0)
	for i := len(r.movements) - 1; i >= 0 && len(out) < limit; i-- {
		if r.movements[i].ProductID == productID {
			out = append(out, r.movements[i])
		}
	}
	return out, nil
}

func (tx *memoryTx) GetStockForUpdate(_ context.Context, owner string, productID uuid.UUID) (int64, int, error) {
	p, ok := tx.repo.products[productID]
	if !ok || p.owner != owner {
		return 0, 0, store.NotFound("lock", store.CollectionProducts)
	}
	return p.key, p.level.Stock, nil
}

func (tx *memoryTx) SetStock(_ context.Context, productKey int64, stock int) error {
	for _, p := range tx.repo.products {
		if p.key == productKey {
			p.level.Stock = stock
			return nil
		}
	}
	return errors.New("unknown product key")
}

func (tx *memoryTx) InsertMovement(_ context.Context, _ string, _ int64, m Movement) (Movement, error) {
	tx.repo.nextID++
	m.ID = tx.repo.nextID
	m.CreatedAt = time.Now()
	tx.repo.movements = append(tx.repo.movements, m)
	return m, nil
}

type stubFlow struct {
	query string
	err   error
}

func (s *stubFlow) Run(_ context.Context, query string) (string, error) {
	s.query = query
	if s.err != nil {
		return "", s.err
	}
	return "You have 3 widgets left.", nil
}

func TestLevelsFlagLowStock(t *testing.T) {
	repo := newMemoryRepo()
	repo.add("owner", "Widget", 2.5, 4)
	repo.add("owner", "Gadget", 10, 25)
	repo.add("other", "Foreign", 1, 1)
	svc := NewService(repo, ServiceConfig{})

	levels, err := svc.Levels(context.Background(), "owner", 0)
	require.NoError(t, err)
	require.Len(t, levels, 2)
	for _, l := range levels {
		switch l.Name {
		case "Widget":
			require.True(t, l.LowStock)
			require.InDelta(t, 10.0, l.Value, 1e-9)
		case "Gadget":
			require.False(t, l.LowStock)
		}
	}

	levels, err = svc.Levels(context.Background(), "owner", 30)
	require.NoError(t, err)
	for _, l := range levels {
		require.True(t, l.LowStock)
	}
}

func TestAdjustWritesMovement(t *testing.T) {
	repo := newMemoryRepo()
	id := repo.add("owner", "Widget", 1, 5)
	svc := NewService(repo, ServiceConfig{})
	ctx := context.Background()

	m, err := svc.Adjust(ctx, "owner", AdjustmentInput{ProductID: id, Delta: 7, Note: " recount "})
	require.NoError(t, err)
	require.Equal(t, 12, m.Balance)
	require.Equal(t, ReasonAdjustment, m.Reason)
	require.Equal(t, "recount", m.Reference)

	m, err = svc.Adjust(ctx, "owner", AdjustmentInput{ProductID: id, Delta: -12})
	require.NoError(t, err)
	require.Equal(t, 0, m.Balance)

	moves, err := svc.Movements(ctx, "owner", id, 0)
	require.NoError(t, err)
	require.Len(t, moves, 2)
	require.Equal(t, -12, moves[0].Delta)
}

func TestNegativeStockGuard(t *testing.T) {
	repo := newMemoryRepo()
	id := repo.add("owner", "Widget", 1, 2)
	svc := NewService(repo, ServiceConfig{})

	_, err := svc.Adjust(context.Background(), "owner", AdjustmentInput{ProductID: id, Delta: -3})
	require.ErrorIs(t, err, ErrNegativeStock)
	var neg *NegativeStockError
	require.ErrorAs(t, err, &neg)
	require.Equal(t, 2, neg.Stock)
	require.Equal(t, 2, repo.products[id].level.Stock)
	require.Empty(t, repo.movements)

	_, err = svc.Adjust(context.Background(), "owner", AdjustmentInput{ProductID: id})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.Adjust(context.Background(), "intruder", AdjustmentInput{ProductID: id, Delta: 1})
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestAskForwardsQuery(t *testing.T) {
	flow := &stubFlow{}
	svc := NewService(newMemoryRepo(), ServiceConfig{Flow: flow})

	answer, err := svc.Ask(context.Background(), "owner", "  how many widgets? ")
	require.NoError(t, err)
	require.Equal(t, "You have 3 widgets left.", answer)
	require.Equal(t, "how many widgets?", flow.query)

	_, err = NewService(newMemoryRepo(), ServiceConfig{}).Ask(context.Background(), "owner", "q")
	require.ErrorIs(t, err, ErrAssistantUnavailable)
}

func TestHandlerAdjustmentProblem(t *testing.T) {
	repo := newMemoryRepo()
	id := repo.add("owner", "Widget", 1, 1)
	router := chi.NewRouter()
	router.Route("/inventory", NewHandler(nil, NewService(repo, ServiceConfig{})).MountRoutes)

	req := httptest.NewRequest(http.MethodPost, "/inventory/"+id.String()+"/adjustments", strings.NewReader(`{"delta":-5}`))
	req = req.WithContext(auth.ContextWithIdentity(req.Context(), auth.Identity{OwnerID: "owner"}))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusConflict, res.Code)
	var problem map[string]any
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &problem))
	require.Equal(t, id.String(), problem["productId"])

	req = httptest.NewRequest(http.MethodGet, "/inventory?threshold=abc", nil)
	req = req.WithContext(auth.ContextWithIdentity(req.Context(), auth.Identity{OwnerID: "owner"}))
	res = httptest.NewRecorder()
	router.ServeHTTP(res, req)
	require.Equal(t, http.StatusBadRequest, res.Code)
}
