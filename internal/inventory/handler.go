package inventory

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/invoicedesk/invoicedesk/internal/auth"
	"github.com/invoicedesk/invoicedesk/internal/platform/httpx"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleLevels)
	r.Post("/ask", h.handleAsk)
	r.Post("/{productID}/adjustments", h.handleAdjustment)
	r.Get("/{productID}/movements", h.handleMovements)
}

type askResponse struct {
	Text string `json:"text"`
}

func (h *Handler) handleLevels(w http.ResponseWriter, r *http.Request) {
	owner, err := auth.OwnerID(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	threshold, err := intParam(r, "threshold")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	levels, err := h.service.Levels(r.Context(), owner, threshold)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, levels)
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	owner, productID, err := h.target(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req AdjustmentRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	movement, err := h.service.Adjust(r.Context(), owner, AdjustmentInput{
		ProductID: productID,
		Delta:     req.Delta,
		Note:      req.Note,
		Key:       r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	owner, productID, err := h.target(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	movements, err := h.service.Movements(r.Context(), owner, productID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	owner, err := auth.OwnerID(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req AskRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	text, err := h.service.Ask(r.Context(), owner, req.Query)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, askResponse{Text: text})
}

func (h *Handler) target(r *http.Request) (string, uuid.UUID, error) {
	owner, err := auth.OwnerID(r.Context())
	if err != nil {
		return "", uuid.Nil, err
	}
	id, err := uuid.Parse(chi.URLParam(r, "productID"))
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("%w: invalid product id", httpx.ErrValidation)
	}
	return owner, id, nil
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", httpx.ErrValidation, name)
	}
	return v, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error("inventory request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
