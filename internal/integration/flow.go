package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTweaks lists the components of the inventory flow. Each is sent with
// an empty override object.
var DefaultTweaks = []string{
	"ChatInput-DfZ2I",
	"ParseData-gpATK",
	"Prompt-vlluV",
	"SplitText-Hy7L5",
	"ChatOutput-OQeJQ",
	"AstraDB-2DhNn",
	"AstraDB-oe2Wd",
	"File-HVtmO",
	"Google Generative AI Embeddings-CHBYt",
	"Google Generative AI Embeddings-Tsxut",
	"GoogleGenerativeAIModel-g2Ryc",
}

// FlowConfig configures the Langflow client.
type FlowConfig struct {
	BaseURL    string
	LangflowID string
	FlowID     string
	APIKey     string
	Tweaks     []string
	Timeout    time.Duration
	HTTPClient *http.Client
	Observer   Observer
}

// FlowClient runs a hosted Langflow flow and extracts its chat answer.
type FlowClient struct {
	cfg      FlowConfig
	http     *http.Client
	observer Observer
}

// NewFlowClient constructs the client. Missing credentials surface on Run.
func NewFlowClient(cfg FlowConfig) *FlowClient {
	if cfg.Tweaks == nil {
		cfg.Tweaks = DefaultTweaks
	}
	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &FlowClient{cfg: cfg, http: newHTTPClient(cfg.HTTPClient, cfg.Timeout), observer: observer}
}

// Configured reports whether every credential is present.
func (c *FlowClient) Configured() bool {
	return c != nil && c.cfg.BaseURL != "" && c.cfg.LangflowID != "" && c.cfg.FlowID != "" && c.cfg.APIKey != ""
}

type flowRequest struct {
	InputValue string                    `json:"input_value"`
	InputType  string                    `json:"input_type"`
	OutputType string                    `json:"output_type"`
	Tweaks     map[string]map[string]any `json:"tweaks"`
}

type flowResponse struct {
	Error   json.RawMessage `json:"error"`
	Outputs []struct {
		Outputs []struct {
			Outputs struct {
				Message *struct {
					Text *string `json:"text"`
				} `json:"message"`
			} `json:"outputs"`
		} `json:"outputs"`
	} `json:"outputs"`
}

// Run sends query as chat input and returns the flow's text answer.
func (c *FlowClient) Run(ctx context.Context, query string) (text string, err error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	started := time.Now()
	defer func() { c.observer.ObserveExternal(ServiceFlow, started, err) }()

	tweaks := make(map[string]map[string]any, len(c.cfg.Tweaks))
	for _, id := range c.cfg.Tweaks {
		tweaks[id] = map[string]any{}
	}
	body, err := json.Marshal(flowRequest{
		InputValue: query,
		InputType:  "chat",
		OutputType: "chat",
		Tweaks:     tweaks,
	})
	if err != nil {
		return "", fmt.Errorf("integration: encode flow request: %w", err)
	}

	endpoint := joinURL(c.cfg.BaseURL, "lf", url.PathEscape(c.cfg.LangflowID), "api/v1/run", url.PathEscape(c.cfg.FlowID)) + "?stream=false"
	payload, err := postJSON(ctx, c.http, ServiceFlow, endpoint, c.cfg.APIKey, body)
	if err != nil {
		return "", err
	}
	return extractFlowText(payload)
}

func extractFlowText(payload []byte) (string, error) {
	var resp flowResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if msg := flowErrorMessage(resp.Error); msg != "" {
		return "", &APIError{Service: ServiceFlow, Status: http.StatusOK, Body: msg}
	}
	if len(resp.Outputs) == 0 || len(resp.Outputs[0].Outputs) == 0 {
		return "", ErrMalformedResponse
	}
	msg := resp.Outputs[0].Outputs[0].Outputs.Message
	if msg == nil || msg.Text == nil || *msg.Text == "" {
		return "", ErrMalformedResponse
	}
	return *msg.Text, nil
}

func flowErrorMessage(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || trimmed == "false" || trimmed == `""` {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return trimmed
}
