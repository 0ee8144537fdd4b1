package llm

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	anthropicURL     = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"
	openaiURL        = "https://api.openai.com/v1/chat/completions"
	googleURLFormat  = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"

	maxTokens = 1024
)

// providerRequest is a fully-built HTTP request for one provider: the body
// bytes plus the headers to set. Built once per Query, reused across retries.
type providerRequest struct {
	url     string
	headers map[string]string
	body    []byte
}

// buildRequest assembles the provider-specific payload. Each provider wants
// its own envelope, but the content ordering is uniform: every image first,
// the prompt text last.
func buildRequest(provider Provider, model, apiKey, prompt string, images []preparedImage) (*providerRequest, error) {
	switch provider {
	case ProviderAnthropic:
		return buildAnthropicRequest(model, apiKey, prompt, images)
	case ProviderOpenAI:
		return buildOpenAIRequest(model, apiKey, prompt, images)
	case ProviderGoogle:
		return buildGoogleRequest(model, apiKey, prompt, images)
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}

type preparedImage struct {
	b64      string
	mimeType string
}

func buildAnthropicRequest(model, apiKey, prompt string, images []preparedImage) (*providerRequest, error) {
	content := make([]map[string]any, 0, len(images)+1)
	for _, img := range images {
		content = append(content, map[string]any{
			"type": "image",
			"source": map[string]any{
				"type":       "base64",
				"media_type": img.mimeType,
				"data":       img.b64,
			},
		})
	}
	content = append(content, map[string]any{
		"type": "text",
		"text": prompt,
	})

	payload := map[string]any{
		"model":      model,
		"max_tokens": maxTokens,
		"messages": []map[string]any{
			{"role": "user", "content": content},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal anthropic request: %w", err)
	}

	return &providerRequest{
		url: anthropicURL,
		headers: map[string]string{
			"Content-Type":      "application/json",
			"x-api-key":         apiKey,
			"anthropic-version": anthropicVersion,
		},
		body: body,
	}, nil
}

func buildOpenAIRequest(model, apiKey, prompt string, images []preparedImage) (*providerRequest, error) {
	content := make([]map[string]any, 0, len(images)+1)
	for _, img := range images {
		content = append(content, map[string]any{
			"type": "image_url",
			"image_url": map[string]any{
				"url": fmt.Sprintf("data:%s;base64,%s", img.mimeType, img.b64),
			},
		})
	}
	content = append(content, map[string]any{
		"type": "text",
		"text": prompt,
	})

	payload := map[string]any{
		"model":      model,
		"max_tokens": maxTokens,
		"messages": []map[string]any{
			{"role": "user", "content": content},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal openai request: %w", err)
	}

	return &providerRequest{
		url: openaiURL,
		headers: map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Bearer " + apiKey,
		},
		body: body,
	}, nil
}

func buildGoogleRequest(model, apiKey, prompt string, images []preparedImage) (*providerRequest, error) {
	parts := make([]map[string]any, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, map[string]any{
			"inline_data": map[string]any{
				"mime_type": img.mimeType,
				"data":      img.b64,
			},
		})
	}
	parts = append(parts, map[string]any{
		"text": prompt,
	})

	payload := map[string]any{
		"contents": []map[string]any{
			{"parts": parts},
		},
		"generationConfig": map[string]any{
			"maxOutputTokens": maxTokens,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal google request: %w", err)
	}

	return &providerRequest{
		url: fmt.Sprintf(googleURLFormat, model),
		headers: map[string]string{
			"Content-Type":   "application/json",
			"x-goog-api-key": apiKey,
		},
		body: body,
	}, nil
}

// parseResponse extracts the text, model name and usage block from a 2xx
// provider response body.
func parseResponse(provider Provider, model string, body []byte) (*Response, error) {
	switch provider {
	case ProviderAnthropic:
		return parseAnthropicResponse(model, body)
	case ProviderOpenAI:
		return parseOpenAIResponse(model, body)
	case ProviderGoogle:
		return parseGoogleResponse(model, body)
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}

func parseAnthropicResponse(model string, body []byte) (*Response, error) {
	var parsed struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Model string         `json:"model"`
		Usage map[string]any `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse anthropic response: %w", err)
	}

	var texts []string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			texts = append(texts, block.Text)
		}
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("anthropic response contains no text blocks")
	}

	if parsed.Model != "" {
		model = parsed.Model
	}
	return &Response{
		Text:     strings.Join(texts, "\n"),
		Provider: ProviderAnthropic,
		Model:    model,
		Usage:    parsed.Usage,
	}, nil
}

func parseOpenAIResponse(model string, body []byte) (*Response, error) {
	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Model string         `json:"model"`
		Usage map[string]any `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse openai response: %w", err)
	}

	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("openai response contains no choices")
	}

	if parsed.Model != "" {
		model = parsed.Model
	}
	return &Response{
		Text:     parsed.Choices[0].Message.Content,
		Provider: ProviderOpenAI,
		Model:    model,
		Usage:    parsed.Usage,
	}, nil
}

func parseGoogleResponse(model string, body []byte) (*Response, error) {
	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		ModelVersion  string         `json:"modelVersion"`
		UsageMetadata map[string]any `json:"usageMetadata"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse google response: %w", err)
	}

	if len(parsed.Candidates) == 0 {
		return nil, fmt.Errorf("google response contains no candidates")
	}

	var sb strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	if sb.Len() == 0 {
		return nil, fmt.Errorf("google response candidate contains no text")
	}

	if parsed.ModelVersion != "" {
		model = parsed.ModelVersion
	}
	return &Response{
		Text:     sb.String(),
		Provider: ProviderGoogle,
		Model:    model,
		Usage:    parsed.UsageMetadata,
	}, nil
}

func encodeImages(images []Image) []preparedImage {
	out := make([]preparedImage, 0, len(images))
	for _, img := range images {
		data, mime, resized := prepareImage(img.Data)
		if img.MimeType != "" && !resized {
			// Pass-through: trust the caller's declared type over sniffing.
			mime = img.MimeType
		}
		out = append(out, preparedImage{
			b64:      base64.StdEncoding.EncodeToString(data),
			mimeType: mime,
		})
	}
	return out
}
