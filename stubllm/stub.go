package stubllm

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"tree-analyze-pipeline/llm"
)

// Client is a deterministic, no-network LLM stub intended for CI and local
// end-to-end tests. It inspects the prompt to decide which analyzer is
// asking and returns schema-valid JSON so downstream parsing, consensus
// and DB writes exercise the full pipeline.
type Client struct{}

func NewClient() *Client { return &Client{} }

// Query satisfies the analyzer query interface without touching the
// network. Output varies deterministically with the first image so
// repeated runs on the same photos are stable but distinct observations
// differ.
func (c *Client) Query(ctx context.Context, req llm.Request) (*llm.Response, error) {
	var seed byte
	if len(req.Images) > 0 && len(req.Images[0].Data) > 0 {
		sum := sha256.Sum256(req.Images[0].Data)
		seed = sum[0]
	}

	prompt := strings.ToLower(req.Prompt)
	var out map[string]any
	switch {
	case strings.Contains(prompt, "identify") && strings.Contains(prompt, "species"):
		out = map[string]any{
			"common":     "Live Oak",
			"scientific": "Quercus virginiana",
			"confidence": 0.70 + float64(seed%20)/100,
		}
	case strings.Contains(prompt, "conditionstructural"):
		out = map[string]any{
			"conditionStructural": "good",
			"conditionLeaf":       "fair",
			"confidence":          0.65,
			"observations":        []string{"deadwood", "minor yellowing"},
		}
	case strings.Contains(prompt, "dbhcm"):
		out = map[string]any{
			"dbhCm":       30.0 + float64(seed%40),
			"heightM":     8.0 + float64(seed%10),
			"crownWidthM": 6.0,
			"numStems":    1,
		}
	case strings.Contains(prompt, "level 1"):
		out = map[string]any{
			"conditionRating": "good",
			"locationType":    "street",
			"siteType":        "tree_lawn",
			"riskFlag":        false,
		}
	default:
		out = map[string]any{"note": "unrecognized prompt"}
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}

	return &llm.Response{
		Text:     fmt.Sprintf("```json\n%s\n```", b),
		Provider: "stub",
		Model:    "stub-v1",
		Usage:    map[string]any{"input_tokens": 0, "output_tokens": 0},
	}, nil
}
