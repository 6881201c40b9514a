package products

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/invoicedesk/invoicedesk/internal/platform/httpx"
)

// Invalidator drops cached aggregates for an owner after a mutation.
type Invalidator interface {
	Bump(ctx context.Context, owner string) error
}

// Service exposes product operations.
type Service struct {
	repo   Repository
	cache  Invalidator
	logger *slog.Logger
}

// NewService constructs the products service. cache may be nil.
func NewService(repo Repository, cache Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// List returns the owner's products, newest first.
func (s *Service) List(ctx context.Context, owner string, filter Filter) ([]Product, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	return s.repo.List(ctx, owner, filter)
}

// Get returns a single product.
func (s *Service) Get(ctx context.Context, owner string, id uuid.UUID) (Product, error) {
	return s.repo.Get(ctx, owner, id)
}

// Create validates and stores a new product.
func (s *Service) Create(ctx context.Context, owner string, req CreateRequest) (Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := httpx.Validate(req); err != nil {
		return Product{}, err
	}
	p, err := s.repo.Insert(ctx, owner, Product{Name: req.Name, Price: req.Price, Stock: req.Stock})
	if err != nil {
		return Product{}, err
	}
	s.invalidate(ctx, owner)
	return p, nil
}

// Update applies a partial update and returns the stored product.
func (s *Service) Update(ctx context.Context, owner string, id uuid.UUID, req UpdateRequest) (Product, error) {
	if req.Name != nil {
		trimmed := strings.TrimSpace(*req.Name)
		req.Name = &trimmed
	}
	if err := httpx.Validate(req); err != nil {
		return Product{}, err
	}
	patch := req.patch()
	if patch.Empty() {
		return Product{}, fmt.Errorf("%w: nothing to update", httpx.ErrValidation)
	}
	p, err := s.repo.Update(ctx, owner, id, patch)
	if err != nil {
		return Product{}, err
	}
	s.invalidate(ctx, owner)
	return p, nil
}

// Delete removes a product.
func (s *Service) Delete(ctx context.Context, owner string, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, owner, id); err != nil {
		return err
	}
	s.invalidate(ctx, owner)
	return nil
}

func (s *Service) invalidate(ctx context.Context, owner string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx, owner); err != nil {
		s.logger.Warn("dashboard cache bump failed", slog.String("owner", owner), slog.Any("error", err))
	}
}
