package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/invoicedesk/invoicedesk/internal/platform/httpx"
)

// Corrector sends an invoice document for correction and returns the corrected JSON.
type Corrector interface {
	Correct(ctx context.Context, invoice json.RawMessage) (json.RawMessage, error)
}

// CorrectionConfig configures the HTTP correction client.
type CorrectionConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Observer   Observer
}

// CorrectionClient forwards invoices to the correction API verbatim.
type CorrectionClient struct {
	cfg      CorrectionConfig
	http     *http.Client
	observer Observer
}

// NewCorrectionClient constructs the client.
func NewCorrectionClient(cfg CorrectionConfig) *CorrectionClient {
	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &CorrectionClient{cfg: cfg, http: newHTTPClient(cfg.HTTPClient, cfg.Timeout), observer: observer}
}

// Correct posts invoice to /v1/invoice-correction and returns the response body as is.
func (c *CorrectionClient) Correct(ctx context.Context, invoice json.RawMessage) (out json.RawMessage, err error) {
	if c == nil || c.cfg.BaseURL == "" || c.cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if !json.Valid(invoice) {
		return nil, fmt.Errorf("%w: correction payload is not valid json", httpx.ErrValidation)
	}
	started := time.Now()
	defer func() { c.observer.ObserveExternal(ServiceCorrection, started, err) }()

	payload, err := postJSON(ctx, c.http, ServiceCorrection, joinURL(c.cfg.BaseURL, "v1/invoice-correction"), c.cfg.APIKey, invoice)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(payload), nil
}

var _ Corrector = (*CorrectionClient)(nil)

// Correction providers.
const (
	ProviderHTTP   = "http"
	ProviderGemini = "gemini"
)

// ProviderConfig selects and configures a Corrector.
type ProviderConfig struct {
	Provider string
	HTTP     CorrectionConfig
	Gemini   GeminiConfig
}

// NewCorrector builds the configured provider. The returned close func is never nil.
// A provider without credentials is still returned and answers ErrNotConfigured.
func NewCorrector(ctx context.Context, cfg ProviderConfig) (Corrector, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Provider {
	case "", ProviderHTTP:
		return NewCorrectionClient(cfg.HTTP), noop, nil
	case ProviderGemini:
		if cfg.Gemini.APIKey == "" {
			return &GeminiCorrector{}, noop, nil
		}
		g, err := NewGeminiCorrector(ctx, cfg.Gemini)
		if err != nil {
			return nil, noop, err
		}
		return g, g.Close, nil
	default:
		return nil, noop, fmt.Errorf("integration: unknown correction provider %q", cfg.Provider)
	}
}
