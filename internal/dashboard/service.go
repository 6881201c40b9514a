package dashboard

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/invoicedesk/invoicedesk/internal/document"
	"github.com/invoicedesk/invoicedesk/internal/inventory"
)

// loadTimeout bounds a shared load once it is detached from the caller.
const loadTimeout = 30 * time.Second

// Service builds dashboards through the versioned cache.
type Service struct {
	repo      Repository
	cache     *Cache
	threshold int
	logger    *slog.Logger
	now       func() time.Time
	group     singleflight.Group
}

// Config tunes the aggregator.
type Config struct {
	LowStockThreshold int
	Logger            *slog.Logger
	Now               func() time.Time
}

// NewService wires the aggregator. A nil cache loads straight from the repository.
// A threshold below 1 falls back to inventory.DefaultLowStockThreshold.
func NewService(repo Repository, cache *Cache, cfg Config) *Service {
	if cfg.LowStockThreshold < 1 {
		cfg.LowStockThreshold = inventory.DefaultLowStockThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		repo:      repo,
		cache:     cache,
		threshold: cfg.LowStockThreshold,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
}

// Get returns the owner's dashboard. Concurrent misses for the same cache key
// share one load, which runs detached from any single caller's cancellation.
func (s *Service) Get(ctx context.Context, owner string) (Dashboard, error) {
	key, err := s.cache.BuildKey(ctx, owner)
	if err != nil {
		s.logger.Warn("dashboard cache unavailable", slog.String("owner", owner), slog.Any("error", err))
		return s.load(ctx, owner)
	}

	result := s.group.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		var out Dashboard
		err := s.cache.FetchJSON(loadCtx, key, &out, func(ctx context.Context) (any, error) {
			return s.load(ctx, owner)
		})
		return out, err
	})
	select {
	case <-ctx.Done():
		return Dashboard{}, ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return Dashboard{}, res.Err
		}
		return res.Val.(Dashboard), nil
	}
}

// Bump invalidates the owner's cached dashboard.
func (s *Service) Bump(ctx context.Context, owner string) error {
	return s.cache.Bump(ctx, owner)
}

func (s *Service) load(ctx context.Context, owner string) (Dashboard, error) {
	var (
		products ProductStats
		invoices InvoiceStats
		added    []Activity
		created  []Activity
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		products, err = s.repo.ProductStats(ctx, owner, s.threshold)
		return err
	})
	g.Go(func() error {
		var err error
		invoices, err = s.repo.InvoiceStats(ctx, owner)
		return err
	})
	g.Go(func() error {
		var err error
		added, err = s.repo.RecentProducts(ctx, owner, FeedSize)
		return err
	})
	g.Go(func() error {
		var err error
		created, err = s.repo.RecentInvoices(ctx, owner, FeedSize)
		return err
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}

	return Dashboard{
		Stats: Stats{
			TotalProducts:   products.Count,
			TotalValue:      document.RoundCents(products.TotalValue),
			AveragePrice:    document.RoundCents(products.AveragePrice),
			LowStock:        products.LowStock,
			TotalInvoices:   invoices.Count,
			PendingInvoices: invoices.Pending,
			Revenue:         document.RoundCents(invoices.Revenue),
		},
		RecentActivity: MergeActivity(FeedSize, added, created),
		GeneratedAt:    s.now().UTC(),
	}, nil
}

// MergeActivity merges feeds newest first and keeps at most limit entries.
func MergeActivity(limit int, feeds ...[]Activity) []Activity {
	merged := make([]Activity, 0)
	for _, feed := range feeds {
		merged = append(merged, feed...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
