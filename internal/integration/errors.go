// Package integration proxies the external flow and invoice correction services.
package integration

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/invoicedesk/invoicedesk/internal/platform/httpx"
)

// Service names used in errors and metrics.
const (
	ServiceFlow       = "langflow"
	ServiceCorrection = "correction"
	ServiceGemini     = "gemini"
)

var (
	// ErrNotConfigured is returned when the credentials for a service are missing.
	ErrNotConfigured = fmt.Errorf("%w: integration: service not configured", httpx.ErrUnavailable)
	// ErrMalformedResponse is returned when an upstream answer lacks the expected shape.
	ErrMalformedResponse = fmt.Errorf("%w: integration: malformed upstream response", httpx.ErrBadGateway)
)

const maxErrorBody = 2048

// APIError reports a failed upstream call.
type APIError struct {
	Service string
	Status  int
	Body    string
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("integration: %s: %s", e.Service, e.Body)
	}
	return fmt.Sprintf("integration: %s responded %d: %s", e.Service, e.Status, e.Body)
}

// Unwrap maps every upstream failure to a bad gateway.
func (e *APIError) Unwrap() error { return httpx.ErrBadGateway }

// ProblemExtensions exposes the upstream service and status.
func (e *APIError) ProblemExtensions() map[string]any {
	ext := map[string]any{"service": e.Service}
	if e.Status != 0 {
		ext["upstreamStatus"] = e.Status
	}
	return ext
}

func newAPIError(service string, status int, body []byte) *APIError {
	text := string(body)
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	if text == "" && status != 0 {
		text = http.StatusText(status)
	}
	return &APIError{Service: service, Status: status, Body: text}
}

// IsUpstream reports whether err came from an external service rather than configuration.
func IsUpstream(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) || errors.Is(err, ErrMalformedResponse)
}
