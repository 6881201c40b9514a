package integration

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/invoicedesk/invoicedesk/internal/auth"
	"github.com/invoicedesk/invoicedesk/internal/platform/httpx"
)

// FlowRequest is the body of POST /assistant/flow.
type FlowRequest struct {
	Query string `json:"query" validate:"required,max=4000"`
}

// FlowResponse carries the flow's text answer.
type FlowResponse struct {
	Text string `json:"text"`
}

// Handler exposes the raw flow proxy under /assistant.
type Handler struct {
	logger *slog.Logger
	flow   *FlowClient
}

// NewHandler constructs the assistant handler.
func NewHandler(logger *slog.Logger, flow *FlowClient) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, flow: flow}
}

// MountRoutes registers assistant routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/flow", h.runFlow)
}

func (h *Handler) runFlow(w http.ResponseWriter, r *http.Request) {
	owner, err := auth.OwnerID(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req FlowRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		httpx.RespondError(w, &httpx.ValidationError{Fields: map[string]string{"query": "is required"}})
		return
	}
	text, err := h.flow.Run(r.Context(), query)
	if err != nil {
		if IsUpstream(err) {
			h.logger.Warn("flow call failed", slog.String("owner", owner), slog.Any("error", err))
		} else if httpx.StatusFor(err) >= http.StatusInternalServerError {
			h.logger.Error("flow call failed", slog.String("owner", owner), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, FlowResponse{Text: text})
}
