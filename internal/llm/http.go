package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HTTPInvoker calls a provider's HTTP completion endpoint, grounded on
// the orchestrator's HTTPTaskExecutor connection-pooling and
// trace-propagation idiom.
type HTTPInvoker struct {
	client   *http.Client
	endpoint string
	tracer   trace.Tracer
}

func NewHTTPInvoker(endpoint string, client *http.Client) *HTTPInvoker {
	if client == nil {
		client = &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &HTTPInvoker{client: client, endpoint: endpoint, tracer: otel.Tracer("agentkernel-llm")}
}

type httpRequestBody struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Context json.RawMessage `json:"context,omitempty"`
}

type httpResponseBody struct {
	Text         string          `json:"text"`
	Reasoning    string          `json:"reasoning,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	InputTokens  int             `json:"input_tokens"`
	OutputTokens int             `json:"output_tokens"`
	Dollars      *float64        `json:"dollars,omitempty"`
	Confidence   *float64        `json:"confidence,omitempty"`
}

func (h *HTTPInvoker) Invoke(ctx context.Context, req Request) (Result, error) {
	ctx, span := h.tracer.Start(ctx, "llm.invoke",
		trace.WithAttributes(attribute.String("model", req.Model)))
	defer span.End()

	body, err := json.Marshal(httpRequestBody{Model: req.Model, Prompt: req.Prompt, Context: req.Context})
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, &headerCarrier{httpReq.Header})

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("invoke provider: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		return Result{}, fmt.Errorf("provider error %d: %s", resp.StatusCode, string(raw))
	}

	var parsed httpResponseBody
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}

	result := Result{
		Text:         parsed.Text,
		Reasoning:    parsed.Reasoning,
		Data:         parsed.Data,
		InputTokens:  parsed.InputTokens,
		OutputTokens: parsed.OutputTokens,
	}
	if parsed.Dollars != nil {
		result.Dollars = *parsed.Dollars
		result.HasDollars = true
	}
	if parsed.Confidence != nil {
		result.Confidence = *parsed.Confidence
		result.HasConfidence = true
	}
	return result, nil
}

type headerCarrier struct{ header http.Header }

func (hc *headerCarrier) Get(key string) string       { return hc.header.Get(key) }
func (hc *headerCarrier) Set(key, value string)        { hc.header.Set(key, value) }
func (hc *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(hc.header))
	for k := range hc.header {
		keys = append(keys, k)
	}
	return keys
}
