package invoices

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/invoicedesk/invoicedesk/internal/auth"
	"github.com/invoicedesk/invoicedesk/internal/platform/httpx"
)

const maxUploadBytes = 10 << 20

// Handler serves /invoices.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the invoices handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.finalize)
	r.Post("/correction", h.correctRaw)
	r.Get("/{id}", h.get)
	r.Delete("/{id}", h.delete)
	r.Post("/{id}/status", h.toggleStatus)
	r.Post("/{id}/file", h.attachFile)
	r.Get("/{id}/document", h.document)
	r.Post("/{id}/correction", h.correct)
}

type documentInfo struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type finalizeResponse struct {
	Invoice       Invoice       `json:"invoice"`
	Document      *documentInfo `json:"document,omitempty"`
	DocumentError string        `json:"documentError,omitempty"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	owner, err := auth.OwnerID(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items, err := h.service.List(r.Context(), owner)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) finalize(w http.ResponseWriter, r *http.Request) {
	owner, err := auth.OwnerID(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req FinalizeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	receipt, err := h.service.Finalize(r.Context(), owner, req, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/invoices/"+receipt.Invoice.ID.String())

	if receipt.Document != nil && strings.Contains(r.Header.Get("Accept"), "application/pdf") {
		w.Header().Set("X-Invoice-Id", receipt.Invoice.ID.String())
		httpx.Attachment(w, receipt.Document.Name, receipt.Document.ContentType, receipt.Document.Bytes)
		return
	}
	resp := finalizeResponse{Invoice: receipt.Invoice}
	if receipt.Document != nil {
		resp.Document = &documentInfo{
			Name: receipt.Document.Name,
			URL:  "/api/v1/invoices/" + receipt.Invoice.ID.String() + "/document",
		}
	}
	if receipt.DocumentErr != nil {
		resp.DocumentError = receipt.DocumentErr.Error()
	}
	httpx.JSON(w, http.StatusCreated, resp)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	owner, id, err := h.target(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	inv, err := h.service.Get(r.Context(), owner, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	owner, id, err := h.target(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.Delete(r.Context(), owner, id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) toggleStatus(w http.ResponseWriter, r *http.Request) {
	owner, id, err := h.target(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req ToggleRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	inv, err := h.service.ToggleStatus(r.Context(), owner, id, req.Expected)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) attachFile(w http.ResponseWriter, r *http.Request) {
	owner, id, err := h.target(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.fail(w, r, fmt.Errorf("%w: multipart form with a file field required", httpx.ErrValidation))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: file field required", httpx.ErrValidation))
		return
	}
	defer func() { _ = file.Close() }()
	data, err := io.ReadAll(file)
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: read upload: %v", httpx.ErrValidation, err))
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	inv, err := h.service.AttachFile(r.Context(), owner, id, header.Filename, contentType, data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) document(w http.ResponseWriter, r *http.Request) {
	owner, id, err := h.target(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	file, err := h.service.Document(r.Context(), owner, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Attachment(w, file.Name, file.ContentType, file.Bytes)
}

func (h *Handler) correct(w http.ResponseWriter, r *http.Request) {
	owner, id, err := h.target(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.service.Correct(r.Context(), owner, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeRaw(w, out)
}

func (h *Handler) correctRaw(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.OwnerID(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	var payload json.RawMessage
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.service.CorrectRaw(r.Context(), payload)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeRaw(w, out)
}

func writeRaw(w http.ResponseWriter, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) target(r *http.Request) (string, uuid.UUID, error) {
	owner, err := auth.OwnerID(r.Context())
	if err != nil {
		return "", uuid.Nil, err
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("%w: invalid invoice id", httpx.ErrValidation)
	}
	return owner, id, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error("invoices request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
