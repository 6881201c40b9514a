package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/invoicedesk/invoicedesk/internal/platform/httpx"
)

// TokenVerifier is implemented by Verifier.
type TokenVerifier interface {
	Verify(raw string) (Identity, error)
}

// Middleware rejects requests without a valid bearer token and stores the
// verified identity in the request context.
func Middleware(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := verifier.Verify(bearerToken(r))
			if err != nil {
				if logger != nil && !errors.Is(err, ErrMissingToken) {
					logger.Warn("rejected bearer token", slog.String("path", r.URL.Path), slog.Any("error", err))
				}
				w.Header().Set("WWW-Authenticate", `Bearer realm="invoicedesk"`)
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
