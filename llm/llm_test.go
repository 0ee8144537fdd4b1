package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"tree-analyze-pipeline/config"
	"tree-analyze-pipeline/metrics"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{401, ErrAuth},
		{403, ErrAuth},
		{429, ErrRateLimit},
		{500, ErrServer},
		{503, ErrServer},
		{400, ErrClient},
		{404, ErrClient},
		{422, ErrClient},
	}

	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.want {
			t.Errorf("classifyStatus(%d) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestProviderErrorRetryable(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want bool
	}{
		{ErrAuth, false},
		{ErrClient, false},
		{ErrRateLimit, true},
		{ErrServer, true},
		{ErrTimeout, true},
		{ErrNetwork, true},
	}

	for _, tt := range tests {
		err := &ProviderError{Provider: "anthropic", Kind: tt.kind}
		if got := err.Retryable(); got != tt.want {
			t.Errorf("Retryable(%s) = %t, want %t", tt.kind, got, tt.want)
		}
	}
}

func TestQueryMissingKeyFailsWithoutNetwork(t *testing.T) {
	cfg := &config.Config{
		LLMProvider: "anthropic",
		LLMModel:    "claude-sonnet-4-5-20250929",
		LLMTimeout:  time.Second,
	}
	client := NewClient(cfg)

	start := time.Now()
	_, err := client.Query(context.Background(), Request{Prompt: "identify this tree"})
	if err == nil {
		t.Fatal("Query() succeeded without an API key")
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("Query() took too long; key check should precede network I/O")
	}

	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("Query() error = %T, want *ProviderError", err)
	}
	if perr.Kind != ErrAuth {
		t.Errorf("Query() error kind = %s, want %s", perr.Kind, ErrAuth)
	}
}

func TestQueryUnknownProvider(t *testing.T) {
	cfg := &config.Config{LLMProvider: "mystery", LLMTimeout: time.Second}
	client := NewClient(cfg)

	_, err := client.Query(context.Background(), Request{Prompt: "hello"})
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("Query() error = %v, want *ProviderError", err)
	}
	if perr.Kind != ErrClient {
		t.Errorf("Query() error kind = %s, want %s", perr.Kind, ErrClient)
	}
}

func TestDoRequestRecordsOutcomes(t *testing.T) {
	var status int
	var respBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(respBody))
	}))
	defer server.Close()

	c := &Client{http: server.Client()}
	preq := &providerRequest{
		url:     server.URL,
		headers: map[string]string{"Content-Type": "application/json"},
		body:    []byte(`{}`),
	}

	tests := []struct {
		name    string
		status  int
		body    string
		outcome string
		wantErr bool
	}{
		{"success", 200, `{"choices": [{"message": {"content": "ok"}}]}`, "success", false},
		{"auth error", 401, `{"error": "bad key"}`, string(ErrAuth), true},
		{"server error", 502, "bad gateway", string(ErrServer), true},
		{"parse error", 200, "not json", "parse_error", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status = tt.status
			respBody = tt.body
			counter := metrics.ProviderRequestsTotal.WithLabelValues(string(ProviderOpenAI), tt.outcome)
			before := testutil.ToFloat64(counter)

			_, err := c.doRequest(context.Background(), ProviderOpenAI, "m", preq)
			if (err != nil) != tt.wantErr {
				t.Fatalf("doRequest() error = %v, wantErr %t", err, tt.wantErr)
			}
			if got := testutil.ToFloat64(counter) - before; got != 1 {
				t.Errorf("counter delta for outcome %q = %v, want 1", tt.outcome, got)
			}
		})
	}
}

// decodeContent pulls the user message content list out of a chat-style
// body: payload[outer][0][inner].
func decodeContent(t *testing.T, body []byte, outer, inner string) []any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal request body: %v", err)
	}
	msgs, ok := payload[outer].([]any)
	if !ok || len(msgs) == 0 {
		t.Fatalf("body has no %s list", outer)
	}
	msg, ok := msgs[0].(map[string]any)
	if !ok {
		t.Fatalf("%s[0] is %T, want object", outer, msgs[0])
	}
	content, ok := msg[inner].([]any)
	if !ok {
		t.Fatalf("%s[0].%s is %T, want list", outer, inner, msg[inner])
	}
	return content
}

func TestBuildRequestImagesPrecedeText(t *testing.T) {
	images := []preparedImage{
		{b64: "aGVsbG8=", mimeType: "image/jpeg"},
		{b64: "d29ybGQ=", mimeType: "image/png"},
	}

	t.Run("anthropic", func(t *testing.T) {
		req, err := buildAnthropicRequest("m", "k", "prompt", images)
		if err != nil {
			t.Fatal(err)
		}
		if req.headers["x-api-key"] != "k" {
			t.Error("missing x-api-key header")
		}
		if req.headers["anthropic-version"] != "2023-06-01" {
			t.Errorf("anthropic-version = %q", req.headers["anthropic-version"])
		}
		content := decodeContent(t, req.body, "messages", "content")
		if len(content) != 3 {
			t.Fatalf("content blocks = %d, want 3", len(content))
		}
		for i := 0; i < 2; i++ {
			if content[i].(map[string]any)["type"] != "image" {
				t.Errorf("block %d type = %v, want image", i, content[i].(map[string]any)["type"])
			}
		}
		if content[2].(map[string]any)["type"] != "text" {
			t.Error("last block is not text")
		}
	})

	t.Run("openai", func(t *testing.T) {
		req, err := buildOpenAIRequest("m", "k", "prompt", images)
		if err != nil {
			t.Fatal(err)
		}
		if req.headers["Authorization"] != "Bearer k" {
			t.Errorf("Authorization = %q", req.headers["Authorization"])
		}
		content := decodeContent(t, req.body, "messages", "content")
		if len(content) != 3 {
			t.Fatalf("content blocks = %d, want 3", len(content))
		}
		if content[0].(map[string]any)["type"] != "image_url" {
			t.Error("first block is not image_url")
		}
		if content[2].(map[string]any)["type"] != "text" {
			t.Error("last block is not text")
		}
	})

	t.Run("google", func(t *testing.T) {
		req, err := buildGoogleRequest("gemini-2.0-flash", "k", "prompt", images)
		if err != nil {
			t.Fatal(err)
		}
		if req.headers["x-goog-api-key"] != "k" {
			t.Error("missing x-goog-api-key header")
		}
		parts := decodeContent(t, req.body, "contents", "parts")
		if len(parts) != 3 {
			t.Fatalf("parts = %d, want 3", len(parts))
		}
		if _, ok := parts[0].(map[string]any)["inline_data"]; !ok {
			t.Error("first part is not inline_data")
		}
		if _, ok := parts[2].(map[string]any)["text"]; !ok {
			t.Error("last part is not text")
		}
	})
}

func TestParseAnthropicResponse(t *testing.T) {
	body := []byte(`{
		"content": [
			{"type": "text", "text": "This is"},
			{"type": "tool_use", "id": "x"},
			{"type": "text", "text": "a maple."}
		],
		"model": "claude-sonnet-4-5-20250929",
		"usage": {"input_tokens": 100, "output_tokens": 20}
	}`)

	resp, err := parseAnthropicResponse("fallback", body)
	if err != nil {
		t.Fatalf("parseAnthropicResponse() error: %v", err)
	}
	if resp.Text != "This is\na maple." {
		t.Errorf("Text = %q, want text blocks joined by newline", resp.Text)
	}
	if resp.Model != "claude-sonnet-4-5-20250929" {
		t.Errorf("Model = %q", resp.Model)
	}
	if resp.Usage["input_tokens"] != 100.0 {
		t.Errorf("Usage input_tokens = %v", resp.Usage["input_tokens"])
	}
}

func TestParseOpenAIResponse(t *testing.T) {
	body := []byte(`{
		"choices": [{"message": {"content": "A red oak."}}],
		"model": "gpt-4o",
		"usage": {"total_tokens": 55}
	}`)

	resp, err := parseOpenAIResponse("fallback", body)
	if err != nil {
		t.Fatalf("parseOpenAIResponse() error: %v", err)
	}
	if resp.Text != "A red oak." {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.Model != "gpt-4o" {
		t.Errorf("Model = %q", resp.Model)
	}
}

func TestParseOpenAIResponseNoChoices(t *testing.T) {
	if _, err := parseOpenAIResponse("m", []byte(`{"choices": []}`)); err == nil {
		t.Error("parseOpenAIResponse() expected error for empty choices")
	}
}

func TestParseGoogleResponse(t *testing.T) {
	body := []byte(`{
		"candidates": [{"content": {"parts": [{"text": "A Norway "}, {"text": "maple."}]}}],
		"modelVersion": "gemini-2.0-flash",
		"usageMetadata": {"totalTokenCount": 40}
	}`)

	resp, err := parseGoogleResponse("fallback", body)
	if err != nil {
		t.Fatalf("parseGoogleResponse() error: %v", err)
	}
	if resp.Text != "A Norway maple." {
		t.Errorf("Text = %q, want parts concatenated", resp.Text)
	}
	if resp.Model != "gemini-2.0-flash" {
		t.Errorf("Model = %q", resp.Model)
	}
	if resp.Usage["totalTokenCount"] != 40.0 {
		t.Errorf("Usage totalTokenCount = %v", resp.Usage["totalTokenCount"])
	}
}
