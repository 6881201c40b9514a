// Package profiles stores the per-owner profile record.
package profiles

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/invoicedesk/invoicedesk/internal/auth"
	"github.com/invoicedesk/invoicedesk/internal/platform/httpx"
	"github.com/invoicedesk/invoicedesk/internal/store"
)

// Profile is the owner's display data.
type Profile struct {
	OwnerID   string    `json:"-"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Bio       string    `json:"bio"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UpsertRequest is the body of PUT /profile.
type UpsertRequest struct {
	Name  string `json:"name" validate:"max=200"`
	Email string `json:"email" validate:"omitempty,email"`
	Bio   string `json:"bio" validate:"max=2000"`
}

// Repository persists profiles.
type Repository interface {
	Get(ctx context.Context, owner string) (Profile, error)
	Upsert(ctx context.Context, p Profile) (Profile, error)
}

type repository struct {
	db store.DBTX
}

// NewRepository returns the pgx backed repository.
func NewRepository(db store.DBTX) Repository {
	return &repository{db: db}
}

func (r *repository) Get(ctx context.Context, owner string) (Profile, error) {
	p := Profile{OwnerID: owner}
	err := r.db.QueryRow(ctx, `SELECT name, email, bio, updated_at FROM profiles WHERE owner_id = $1`, owner).
		Scan(&p.Name, &p.Email, &p.Bio, &p.UpdatedAt)
	if err != nil {
		return Profile{}, store.Wrap("get", store.CollectionProfiles, err)
	}
	return p, nil
}

func (r *repository) Upsert(ctx context.Context, p Profile) (Profile, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO profiles (owner_id, name, email, bio, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (owner_id) DO UPDATE
		SET name = EXCLUDED.name, email = EXCLUDED.email, bio = EXCLUDED.bio, updated_at = NOW()
		RETURNING updated_at`, p.OwnerID, p.Name, p.Email, p.Bio).Scan(&p.UpdatedAt)
	if err != nil {
		return Profile{}, store.Wrap("upsert", store.CollectionProfiles, err)
	}
	return p, nil
}

// Service exposes profile operations.
type Service struct {
	repo Repository
}

// NewService constructs the service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Get returns the owner's profile. An owner who never saved one gets an
// empty profile rather than an error.
func (s *Service) Get(ctx context.Context, owner string) (Profile, error) {
	p, err := s.repo.Get(ctx, owner)
	if errors.Is(err, httpx.ErrNotFound) {
		return Profile{OwnerID: owner}, nil
	}
	return p, err
}

// Upsert creates or replaces the owner's profile.
func (s *Service) Upsert(ctx context.Context, owner string, req UpsertRequest) (Profile, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Bio = strings.TrimSpace(req.Bio)
	if err := httpx.Validate(req); err != nil {
		return Profile{}, err
	}
	return s.repo.Upsert(ctx, Profile{OwnerID: owner, Name: req.Name, Email: req.Email, Bio: req.Bio})
}

// Handler serves /profile.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers profile routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.get)
	r.Put("/", h.put)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	owner, err := auth.OwnerID(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.Get(r.Context(), owner)
	if err != nil {
		h.logger.Error("load profile failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) put(w http.ResponseWriter, r *http.Request) {
	owner, err := auth.OwnerID(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req UpsertRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.Upsert(r.Context(), owner, req)
	if err != nil {
		if httpx.StatusFor(err) >= http.StatusInternalServerError {
			h.logger.Error("save profile failed", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}
