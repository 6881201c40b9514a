package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/invoicedesk/invoicedesk/internal/platform/httpx"
)

const (
	// DefaultGeminiModel is used when no model name is configured.
	DefaultGeminiModel = "gemini-1.5-flash"

	correctionInstruction = `You correct invoices. You receive one invoice as JSON.
Fix arithmetic (line totals and the invoice total), obvious typos in names and emails,
and inconsistent casing. Keep every field and its key. Answer with the corrected
invoice as a single JSON object and nothing else.`
)

// contentGenerator is satisfied by *genai.GenerativeModel.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiConfig configures the Gemini corrector.
type GeminiConfig struct {
	APIKey   string
	Model    string
	Observer Observer
}

// GeminiCorrector asks a Gemini model for a corrected invoice.
type GeminiCorrector struct {
	client   *genai.Client
	model    contentGenerator
	observer Observer
}

// NewGeminiCorrector opens the Gemini client. Close releases it.
func NewGeminiCorrector(ctx context.Context, cfg GeminiConfig) (*GeminiCorrector, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("integration: create gemini client: %w", err)
	}
	name := cfg.Model
	if name == "" {
		name = DefaultGeminiModel
	}
	model := client.GenerativeModel(name)
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(correctionInstruction)}}

	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &GeminiCorrector{client: client, model: model, observer: observer}, nil
}

// Correct sends invoice to the model and returns the JSON it answers with.
func (g *GeminiCorrector) Correct(ctx context.Context, invoice json.RawMessage) (out json.RawMessage, err error) {
	if g == nil || g.model == nil {
		return nil, ErrNotConfigured
	}
	if !json.Valid(invoice) {
		return nil, fmt.Errorf("%w: correction payload is not valid json", httpx.ErrValidation)
	}
	started := time.Now()
	defer func() { g.observer.ObserveExternal(ServiceGemini, started, err) }()

	resp, err := g.model.GenerateContent(ctx, genai.Text(string(invoice)))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &APIError{Service: ServiceGemini, Body: err.Error()}
	}
	text := responseText(resp)
	if text == "" {
		return nil, ErrMalformedResponse
	}
	text = stripFence(text)
	if !json.Valid([]byte(text)) {
		return nil, fmt.Errorf("%w: gemini answered with non-json text", ErrMalformedResponse)
	}
	return json.RawMessage(text), nil
}

// Close releases the underlying client.
func (g *GeminiCorrector) Close() error {
	if g == nil || g.client == nil {
		return nil
	}
	return g.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return strings.TrimSpace(b.String())
}

// stripFence removes a ```json fence some models wrap their answer in.
func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimPrefix(text, "json")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

var _ Corrector = (*GeminiCorrector)(nil)
