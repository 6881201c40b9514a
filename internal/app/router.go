package app

import (
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/invoicedesk/invoicedesk/internal/auth"
	"github.com/invoicedesk/invoicedesk/internal/dashboard"
	"github.com/invoicedesk/invoicedesk/internal/integration"
	"github.com/invoicedesk/invoicedesk/internal/inventory"
	"github.com/invoicedesk/invoicedesk/internal/invoices"
	"github.com/invoicedesk/invoicedesk/internal/observability"
	"github.com/invoicedesk/invoicedesk/internal/platform/httpx"
	"github.com/invoicedesk/invoicedesk/internal/products"
	"github.com/invoicedesk/invoicedesk/internal/profiles"
	"github.com/invoicedesk/invoicedesk/jobs"
)

// FileOpener reads objects from the local blob store.
type FileOpener interface {
	Open(bucket, objectPath string) (io.ReadCloser, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger   *slog.Logger
	Config   *Config
	Verifier auth.TokenVerifier
	Metrics  *observability.Metrics
	Files    FileOpener
	Database Pinger

	ProductsHandler  *products.Handler
	InvoicesHandler  *invoices.Handler
	InventoryHandler *inventory.Handler
	ProfileHandler   *profiles.Handler
	DashboardHandler *dashboard.Handler
	AssistantHandler *integration.Handler
	JobHandler       *jobs.Handler
}

// NewRouter constructs the chi.Router with invoicedesk defaults.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, http.StatusText(http.StatusNotFound), "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed), "")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if params.Database != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.Database.Ping(ctx); err != nil {
				logger.Warn("readiness check failed", slog.Any("error", err))
				httpx.Problem(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable), "database unreachable")
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Files != nil {
		r.Get("/files/{bucket}/*", serveFile(params.Files, logger))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(params.Verifier, logger))

		if params.ProductsHandler != nil {
			r.Route("/products", params.ProductsHandler.MountRoutes)
		}
		if params.InvoicesHandler != nil {
			r.Route("/invoices", params.InvoicesHandler.MountRoutes)
		}
		if params.InventoryHandler != nil {
			r.Route("/inventory", params.InventoryHandler.MountRoutes)
		}
		if params.ProfileHandler != nil {
			r.Route("/profile", params.ProfileHandler.MountRoutes)
		}
		if params.DashboardHandler != nil {
			r.Route("/dashboard", params.DashboardHandler.MountRoutes)
		}
		if params.AssistantHandler != nil {
			r.Route("/assistant", params.AssistantHandler.MountRoutes)
		}
	})

	return r
}

func serveFile(files FileOpener, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bucket := chi.URLParam(r, "bucket")
		objectPath := chi.URLParam(r, "*")
		body, err := files.Open(bucket, objectPath)
		if err != nil {
			if httpx.StatusFor(err) >= http.StatusInternalServerError {
				logger.Error("open blob", slog.String("bucket", bucket), slog.Any("error", err))
			}
			httpx.RespondError(w, err)
			return
		}
		defer body.Close()

		contentType := mime.TypeByExtension(path.Ext(objectPath))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "private, max-age=300")
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, body); err != nil {
			logger.Warn("stream blob", slog.String("bucket", bucket), slog.Any("error", err))
		}
	}
}
