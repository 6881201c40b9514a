package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/invoicedesk/invoicedesk/internal/dashboard"
	"github.com/invoicedesk/invoicedesk/internal/integration"
	"github.com/invoicedesk/invoicedesk/internal/inventory"
	"github.com/invoicedesk/invoicedesk/internal/invoices"
	"github.com/invoicedesk/invoicedesk/internal/observability"
	"github.com/invoicedesk/invoicedesk/internal/products"
	"github.com/invoicedesk/invoicedesk/internal/profiles"
	"github.com/invoicedesk/invoicedesk/internal/shared"
	"github.com/invoicedesk/invoicedesk/internal/store"
)

// Services holds the domain services shared by the API and the worker.
type Services struct {
	Blobs       store.BlobStore
	Idempotency *shared.IdempotencyStore
	Dashboard   *dashboard.Service
	Cache       *dashboard.Cache
	Products    *products.Service
	Invoices    *invoices.Service
	Inventory   *inventory.Service
	Profiles    *profiles.Service
	Flow        *integration.FlowClient

	closers []func() error
}

// BuildServices wires repositories and services. queue may be nil, in which
// case finalized invoices are not scheduled for background rendering.
func BuildServices(ctx context.Context, cfg *Config, pool *pgxpool.Pool, redisClient *redis.Client, metrics *observability.Metrics, queue invoices.DocumentQueue, logger *slog.Logger) (*Services, error) {
	if cfg == nil || pool == nil {
		return nil, fmt.Errorf("app: config and pool are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Services{Blobs: NewBlobStore(cfg)}

	audit := shared.NewAuditLogger(pool)
	s.Idempotency = shared.NewIdempotencyStore(pool)
	s.Cache = dashboard.NewCache(redisClient, cfg.DashboardCacheTTL).WithLogger(logger.With(slog.String("module", "dashboard")))
	s.Dashboard = dashboard.NewService(dashboard.NewRepository(pool), s.Cache, dashboard.Config{
		LowStockThreshold: cfg.LowStockThreshold,
		Logger:            logger.With(slog.String("module", "dashboard")),
	})

	s.Products = products.NewService(products.NewRepository(pool), s.Cache, logger.With(slog.String("module", "products")))

	var observer integration.Observer
	if metrics != nil {
		observer = metrics
	}
	s.Flow = integration.NewFlowClient(integration.FlowConfig{
		BaseURL:    cfg.LangflowBaseURL,
		LangflowID: cfg.LangflowID,
		FlowID:     cfg.LangflowFlowID,
		APIKey:     cfg.LangflowAPIKey,
		Timeout:    cfg.ExternalTimeout,
		Observer:   observer,
	})
	if !s.Flow.Configured() {
		logger.Warn("langflow credentials missing, assistant endpoints answer 503")
	}

	corrector, closeCorrector, err := integration.NewCorrector(ctx, integration.ProviderConfig{
		Provider: cfg.CorrectionProvider,
		HTTP: integration.CorrectionConfig{
			BaseURL:  cfg.CorrectionBaseURL,
			APIKey:   cfg.CorrectionAPIKey,
			Timeout:  cfg.ExternalTimeout,
			Observer: observer,
		},
		Gemini: integration.GeminiConfig{
			APIKey:   cfg.GeminiAPIKey,
			Model:    cfg.GeminiModel,
			Observer: observer,
		},
	})
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, closeCorrector)

	deps := invoices.Deps{
		Products:    s.Products,
		Idempotency: s.Idempotency,
		Audit:       audit,
		Cache:       s.Cache,
		Blobs:       s.Blobs,
		Corrector:   corrector,
		Queue:       queue,
		Logger:      logger.With(slog.String("module", "invoices")),
	}
	s.Invoices = invoices.NewService(invoices.NewRepository(pool), deps)

	s.Inventory = inventory.NewService(inventory.NewRepository(pool), inventory.ServiceConfig{
		LowStockThreshold: cfg.LowStockThreshold,
		Audit:             audit,
		Idempotency:       s.Idempotency,
		Cache:             s.Cache,
		Flow:              s.Flow,
		Logger:            logger.With(slog.String("module", "inventory")),
	})

	s.Profiles = profiles.NewService(profiles.NewRepository(pool))
	return s, nil
}

// Close releases clients opened by BuildServices.
func (s *Services) Close() error {
	if s == nil {
		return nil
	}
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewBlobStore selects the configured blob backend.
func NewBlobStore(cfg *Config) store.BlobStore {
	if cfg.BlobBackend == "http" {
		return store.NewHTTPBlobStore(cfg.BlobEndpoint, cfg.BlobBaseURL, cfg.BlobAPIKey, cfg.ExternalTimeout)
	}
	return store.NewLocalBlobStore(cfg.BlobDir, cfg.BlobBaseURL)
}
