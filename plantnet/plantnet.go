// Package plantnet is a client for the Pl@ntNet identification API. It
// submits tree photographs tagged with plant organs and returns ranked
// species candidates.
package plantnet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"tree-analyze-pipeline/config"
	"tree-analyze-pipeline/llm"
	"tree-analyze-pipeline/metrics"
	"tree-analyze-pipeline/models"
)

const (
	identifyURL       = "https://my-api.plantnet.org/v2/identify/all"
	defaultMaxRetries = 3
	providerName      = "plantnet"
)

// organForRole maps photo roles to the Pl@ntNet organ vocabulary. Unmapped
// roles default to habit, the whole-plant view.
var organForRole = map[string]string{
	models.RoleFullTreeAngle1: "habit",
	models.RoleFullTreeAngle2: "habit",
	models.RoleBarkCloseup:    "bark",
}

// Candidate is one ranked species suggestion.
type Candidate struct {
	ScientificName string
	CommonNames    []string
	Score          float64
	Genus          string
}

// Result is a parsed identification response. BestMatch is nil when the
// API returned no candidates. RemainingRequests is the account quota as
// reported by the API, nil when absent.
type Result struct {
	Candidates        []Candidate
	BestMatch         *Candidate
	RemainingRequests *int
}

// Client calls the Pl@ntNet identification API.
type Client struct {
	apiKey     string
	baseURL    string
	http       *http.Client
	maxRetries int
}

// NewClient creates a Pl@ntNet client from config.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		apiKey:     cfg.PlantNetAPIKey,
		baseURL:    identifyURL,
		http:       &http.Client{Timeout: cfg.PlantNetTimeout},
		maxRetries: defaultMaxRetries,
	}
}

// Identify submits the photos for identification. At least one photo is
// required and the API key is checked before any network I/O. Transient
// failures are retried with 2^attempt seconds of backoff.
func (c *Client) Identify(ctx context.Context, photos []models.Photo) (*Result, error) {
	if len(photos) == 0 {
		return nil, fmt.Errorf("at least one photo is required")
	}
	if c.apiKey == "" {
		return nil, &llm.ProviderError{
			Provider: providerName,
			Kind:     llm.ErrAuth,
			Message:  "missing API key",
		}
	}

	body, contentType, err := buildForm(photos)
	if err != nil {
		return nil, fmt.Errorf("failed to build identify request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<attempt) * time.Second
			log.Printf("plantnet: retrying attempt=%d backoff=%s err=%v", attempt+1, backoff, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, err := c.doRequest(ctx, body, contentType)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var perr *llm.ProviderError
		if errors.As(err, &perr) && !perr.Retryable() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, lastErr
		}
	}

	return nil, fmt.Errorf("plantnet failed after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *Client) doRequest(ctx context.Context, body []byte, contentType string) (*Result, error) {
	url := fmt.Sprintf("%s?api-key=%s", c.baseURL, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		kind := llm.ErrNetwork
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			kind = llm.ErrTimeout
		}
		recordRequest(string(kind))
		return nil, &llm.ProviderError{Provider: providerName, Kind: kind, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		recordRequest(string(llm.ErrNetwork))
		return nil, &llm.ProviderError{
			Provider: providerName,
			Kind:     llm.ErrNetwork,
			Message:  fmt.Sprintf("failed to read response body: %v", err),
		}
	}

	if resp.StatusCode != http.StatusOK {
		kind := llm.ErrClient
		switch {
		case resp.StatusCode == 401 || resp.StatusCode == 403:
			kind = llm.ErrAuth
		case resp.StatusCode == 429:
			kind = llm.ErrRateLimit
		case resp.StatusCode >= 500:
			kind = llm.ErrServer
		}
		recordRequest(string(kind))
		return nil, &llm.ProviderError{
			Provider: providerName,
			Status:   resp.StatusCode,
			Kind:     kind,
			Message:  string(respBody),
		}
	}

	result, err := parseResponse(respBody)
	if err != nil {
		recordRequest("parse_error")
		return nil, err
	}
	recordRequest("success")
	return result, nil
}

func recordRequest(outcome string) {
	metrics.ProviderRequestsTotal.WithLabelValues(providerName, outcome).Inc()
}

// buildForm assembles the multipart body once so retries reuse the same
// bytes. Each photo becomes an images file part plus an organs field.
func buildForm(photos []models.Photo) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for i, photo := range photos {
		part, err := w.CreateFormFile("images", fmt.Sprintf("photo_%d.jpg", i))
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(photo.Data); err != nil {
			return nil, "", err
		}

		organ := organForRole[photo.Role]
		if organ == "" {
			organ = "habit"
		}
		if err := w.WriteField("organs", organ); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func parseResponse(body []byte) (*Result, error) {
	var parsed struct {
		Results []struct {
			Score   float64 `json:"score"`
			Species struct {
				ScientificNameWithoutAuthor string   `json:"scientificNameWithoutAuthor"`
				CommonNames                 []string `json:"commonNames"`
			} `json:"species"`
		} `json:"results"`
		RemainingIdentificationRequests *int `json:"remainingIdentificationRequests"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse plantnet response: %w", err)
	}

	result := &Result{RemainingRequests: parsed.RemainingIdentificationRequests}
	for _, r := range parsed.Results {
		name := r.Species.ScientificNameWithoutAuthor
		result.Candidates = append(result.Candidates, Candidate{
			ScientificName: name,
			CommonNames:    r.Species.CommonNames,
			Score:          r.Score,
			Genus:          genusOf(name),
		})
	}
	if len(result.Candidates) > 0 {
		result.BestMatch = &result.Candidates[0]
	}

	if result.RemainingRequests != nil {
		log.Printf("plantnet: identify ok candidates=%d quota_remaining=%d",
			len(result.Candidates), *result.RemainingRequests)
	}

	return result, nil
}

// genusOf extracts the genus, the first whitespace-separated token of a
// binomial name.
func genusOf(scientificName string) string {
	fields := strings.Fields(scientificName)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
