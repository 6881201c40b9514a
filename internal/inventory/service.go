package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/invoicedesk/invoicedesk/internal/document"
	"github.com/invoicedesk/invoicedesk/internal/platform/httpx"
	"github.com/invoicedesk/invoicedesk/internal/shared"
)

const (
	defaultMovementLimit = 50
	maxMovementLimit     = 500
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Levels(ctx context.Context, owner string) ([]Level, error)
	Movements(ctx context.Context, owner string, productID uuid.UUID, limit int) ([]Movement, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards against replayed adjustments.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Invalidator drops cached dashboard aggregates for an owner.
type Invalidator interface {
	Bump(ctx context.Context, owner string) error
}

// FlowRunner answers free text questions through the hosted flow.
type FlowRunner interface {
	Run(ctx context.Context, query string) (string, error)
}

// Service coordinates inventory operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	cache       Invalidator
	flow        FlowRunner
	threshold   int
	logger      *slog.Logger
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	LowStockThreshold int
	Audit             AuditPort
	Idempotency       IdempotencyPort
	Cache             Invalidator
	Flow              FlowRunner
	Logger            *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, cfg ServiceConfig) *Service {
	s := &Service{
		repo:        repo,
		audit:       cfg.Audit,
		idempotency: cfg.Idempotency,
		cache:       cfg.Cache,
		flow:        cfg.Flow,
		threshold:   cfg.LowStockThreshold,
		logger:      cfg.Logger,
	}
	if s.threshold <= 0 {
		s.threshold = DefaultLowStockThreshold
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Levels lists stock per product and flags those under threshold. A
// threshold of zero or less uses the configured default.
func (s *Service) Levels(ctx context.Context, owner string, threshold int) ([]Level, error) {
	if threshold <= 0 {
		threshold = s.threshold
	}
	levels, err := s.repo.Levels(ctx, owner)
	if err != nil {
		return nil, err
	}
	for i := range levels {
		levels[i].Value = document.RoundCents(levels[i].Price * float64(levels[i].Stock))
		levels[i].LowStock = levels[i].Stock < threshold
	}
	return levels, nil
}

// Adjust applies a manual stock correction under a row lock.
func (s *Service) Adjust(ctx context.Context, owner string, input AdjustmentInput) (Movement, error) {
	if input.ProductID == uuid.Nil {
		return Movement{}, fmt.Errorf("%w: inventory: product required", httpx.ErrValidation)
	}
	if input.Delta == 0 {
		return Movement{}, ErrInvalidQuantity
	}
	note := strings.TrimSpace(input.Note)

	key := ""
	if input.Key != "" && s.idempotency != nil {
		key = shared.ScopedKey(owner, "adjust:"+input.ProductID.String()+":"+input.Key)
		if err := s.idempotency.CheckAndInsert(ctx, key, "inventory"); err != nil {
			return Movement{}, err
		}
	}

	var out Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		productKey, stock, err := tx.GetStockForUpdate(ctx, owner, input.ProductID)
		if err != nil {
			return err
		}
		balance := stock + input.Delta
		if balance < 0 {
			return &NegativeStockError{ProductID: input.ProductID, Stock: stock, Delta: input.Delta}
		}
		if err := tx.SetStock(ctx, productKey, balance); err != nil {
			return err
		}
		out, err = tx.InsertMovement(ctx, owner, productKey, Movement{
			ProductID: input.ProductID,
			Delta:     input.Delta,
			Balance:   balance,
			Reason:    ReasonAdjustment,
			Reference: note,
		})
		return err
	})
	if err != nil {
		if key != "" {
			if delErr := s.idempotency.Delete(ctx, key); delErr != nil {
				s.logger.Warn("release idempotency key failed", slog.Any("error", delErr))
			}
		}
		if !isNegative(err) {
			s.logger.Debug("inventory adjustment failed", slog.String("product", input.ProductID.String()), slog.Any("error", err))
		}
		return Movement{}, err
	}

	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  owner,
			Action:   "inventory.adjust",
			Entity:   "product",
			EntityID: input.ProductID.String(),
			Meta:     map[string]any{"delta": input.Delta, "balance": out.Balance, "note": note},
		}); err != nil {
			s.logger.Warn("audit record failed", slog.Any("error", err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Bump(ctx, owner); err != nil {
			s.logger.Warn("dashboard cache bump failed", slog.Any("error", err))
		}
	}
	return out, nil
}

// Movements returns the stock ledger of a product, newest first.
func (s *Service) Movements(ctx context.Context, owner string, productID uuid.UUID, limit int) ([]Movement, error) {
	if limit <= 0 {
		limit = defaultMovementLimit
	}
	if limit > maxMovementLimit {
		limit = maxMovementLimit
	}
	return s.repo.Movements(ctx, owner, productID, limit)
}

// Ask forwards an inventory question to the flow assistant and returns its answer.
func (s *Service) Ask(ctx context.Context, owner, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("%w: query is required", httpx.ErrValidation)
	}
	if s.flow == nil {
		return "", ErrAssistantUnavailable
	}
	answer, err := s.flow.Run(ctx, query)
	if err != nil {
		s.logger.Warn("inventory assistant failed", slog.String("owner", owner), slog.Any("error", err))
		return "", err
	}
	return answer, nil
}
