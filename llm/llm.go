// Package llm is a provider-neutral client for multimodal language model
// APIs. It supports Anthropic, OpenAI and Google behind one Query call with
// uniform image preparation, error classification and retry behavior.
package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"tree-analyze-pipeline/config"
	"tree-analyze-pipeline/metrics"
)

// Provider identifies a supported LLM vendor.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGoogle    Provider = "google"
)

const defaultMaxRetries = 3

// Image is one image attachment for a query. MimeType may be empty; it is
// then inferred from the bytes.
type Image struct {
	Data     []byte
	MimeType string
}

// Request is a single multimodal query. Provider and Model override the
// client defaults when non-empty.
type Request struct {
	Prompt   string
	Images   []Image
	Provider Provider
	Model    string
}

// Response is the provider-neutral result of a query. Usage carries the
// provider's token accounting verbatim.
type Response struct {
	Text     string
	Provider Provider
	Model    string
	Usage    map[string]any
}

// Client issues multimodal queries against a configured default provider.
type Client struct {
	provider     Provider
	model        string
	anthropicKey string
	openaiKey    string
	googleKey    string
	http         *http.Client
	maxRetries   int
}

// NewClient creates a client from config. The default provider and model
// come from config; per-request overrides are allowed.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		provider:     Provider(cfg.LLMProvider),
		model:        cfg.LLMModel,
		anthropicKey: cfg.AnthropicAPIKey,
		openaiKey:    cfg.OpenAIAPIKey,
		googleKey:    cfg.GoogleAPIKey,
		http:         &http.Client{Timeout: cfg.LLMTimeout},
		maxRetries:   defaultMaxRetries,
	}
}

func (c *Client) keyFor(provider Provider) (string, error) {
	var key string
	switch provider {
	case ProviderAnthropic:
		key = c.anthropicKey
	case ProviderOpenAI:
		key = c.openaiKey
	case ProviderGoogle:
		key = c.googleKey
	default:
		return "", &ProviderError{
			Provider: string(provider),
			Kind:     ErrClient,
			Message:  "unknown provider",
		}
	}
	if key == "" {
		return "", &ProviderError{
			Provider: string(provider),
			Kind:     ErrAuth,
			Message:  "missing API key",
		}
	}
	return key, nil
}

// Query sends one multimodal request and returns the parsed response.
//
// The credential check happens before any network I/O. Transient failures
// (timeout, rate limit, 5xx, network) are retried up to maxRetries times
// with 2^attempt seconds of backoff; everything else fails immediately.
func (c *Client) Query(ctx context.Context, req Request) (*Response, error) {
	provider := req.Provider
	if provider == "" {
		provider = c.provider
	}
	model := req.Model
	if model == "" {
		model = c.model
	}

	apiKey, err := c.keyFor(provider)
	if err != nil {
		return nil, err
	}

	prepared := encodeImages(req.Images)
	preq, err := buildRequest(provider, model, apiKey, req.Prompt, prepared)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<attempt) * time.Second
			log.Printf("llm: retrying provider=%s attempt=%d backoff=%s err=%v",
				provider, attempt+1, backoff, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := c.doRequest(ctx, provider, model, preq)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var perr *ProviderError
		if errors.As(err, &perr) && !perr.Retryable() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, lastErr
		}
	}

	return nil, fmt.Errorf("provider %s failed after %d attempts: %w", provider, c.maxRetries, lastErr)
}

func (c *Client) doRequest(ctx context.Context, provider Provider, model string, preq *providerRequest) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, preq.url, bytes.NewReader(preq.body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range preq.headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		kind := ErrNetwork
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			kind = ErrTimeout
		}
		recordRequest(string(provider), string(kind))
		return nil, &ProviderError{
			Provider: string(provider),
			Kind:     kind,
			Message:  err.Error(),
		}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		recordRequest(string(provider), string(ErrNetwork))
		return nil, &ProviderError{
			Provider: string(provider),
			Kind:     ErrNetwork,
			Message:  fmt.Sprintf("failed to read response body: %v", err),
		}
	}

	if httpResp.StatusCode != http.StatusOK {
		kind := classifyStatus(httpResp.StatusCode)
		recordRequest(string(provider), string(kind))
		return nil, &ProviderError{
			Provider: string(provider),
			Status:   httpResp.StatusCode,
			Kind:     kind,
			Message:  truncate(string(body), 500),
		}
	}

	resp, err := parseResponse(provider, model, body)
	if err != nil {
		recordRequest(string(provider), "parse_error")
		return nil, err
	}
	recordRequest(string(provider), "success")
	return resp, nil
}

func recordRequest(provider, outcome string) {
	metrics.ProviderRequestsTotal.WithLabelValues(provider, outcome).Inc()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
