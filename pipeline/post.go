package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"tree-analyze-pipeline/config"
	"tree-analyze-pipeline/models"
)

const posterMaxRetries = 3

// Poster delivers assembled results to the internal observations API.
type Poster struct {
	baseURL    string
	apiKey     string
	http       *http.Client
	maxRetries int
}

// NewPoster creates a result poster from config.
func NewPoster(cfg *config.Config) *Poster {
	return &Poster{
		baseURL:    strings.TrimRight(cfg.APIBaseURL, "/"),
		apiKey:     cfg.InternalAPIKey,
		http:       &http.Client{Timeout: 30 * time.Second},
		maxRetries: posterMaxRetries,
	}
}

// Post sends the composite result. Client errors (auth included) fail
// immediately since retrying cannot fix the request; server errors and
// network failures are retried with 2^attempt seconds of backoff.
func (p *Poster) Post(ctx context.Context, observationID string, result *models.AIResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	url := fmt.Sprintf("%s/api/internal/observations/%s/ai-result", p.baseURL, observationID)

	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<attempt) * time.Second
			log.Printf("pipeline: retrying result post observation=%s attempt=%d backoff=%s err=%v",
				observationID, attempt+1, backoff, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		retryable, err := p.doPost(ctx, url, body)
		if err == nil {
			log.Printf("pipeline: result posted observation=%s", observationID)
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}

	return fmt.Errorf("result post failed after %d attempts: %w", p.maxRetries, lastErr)
}

func (p *Poster) doPost(ctx context.Context, url string, body []byte) (retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-API-Key", p.apiKey)

	resp, err := p.http.Do(req)
	if err != nil {
		return true, fmt.Errorf("result post request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err = fmt.Errorf("result post returned status %d: %s", resp.StatusCode, respBody)
	if resp.StatusCode == http.StatusUnauthorized {
		return false, fmt.Errorf("internal API key rejected: %w", err)
	}
	return resp.StatusCode >= 500, err
}
