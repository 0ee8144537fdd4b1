package analyzer

import (
	"context"
	"log"

	"tree-analyze-pipeline/llm"
	"tree-analyze-pipeline/models"
	"tree-analyze-pipeline/parser"
	"tree-analyze-pipeline/vocab"
)

// Health assesses structural and foliage condition.
type Health struct {
	llm QueryClient
}

// NewHealth creates the health analyzer.
func NewHealth(llmClient QueryClient) *Health {
	return &Health{llm: llmClient}
}

// Analyze queries the model and normalizes its assessment. Returns nil
// when the query fails or neither condition rating can be mapped.
func (a *Health) Analyze(ctx context.Context, photos []models.Photo) *models.HealthResult {
	resp, err := a.llm.Query(ctx, llm.Request{Prompt: healthPrompt, Images: toImages(photos)})
	if err != nil {
		log.Printf("analyzer: health query failed err=%v", err)
		return nil
	}
	result := parseHealthResponse(resp.Text)
	if result != nil {
		log.Printf("analyzer: health structural=%s leaf=%s confidence=%.3f observations=%d notes=%d",
			result.ConditionStructural, result.ConditionLeaf, result.Confidence,
			len(result.Observations), len(result.Notes))
	}
	return result
}

func parseHealthResponse(text string) *models.HealthResult {
	data := parser.ExtractJSON(text)
	if data == nil {
		log.Printf("analyzer: no JSON in health response")
		return nil
	}

	structural, structuralOK := vocab.NormalizeCondition(stringField(data, "conditionStructural", "condition_structural"))
	leaf, leafOK := vocab.NormalizeCondition(stringField(data, "conditionLeaf", "condition_leaf"))

	// Compatibility shim: some models collapse both ratings into a single
	// status field despite the two-rating instruction. TODO remove once
	// the health prompt reliably elicits both fields.
	if !structuralOK && !leafOK {
		if fallback, ok := vocab.NormalizeCondition(stringField(data, "status", "condition")); ok {
			structural, leaf = fallback, fallback
			structuralOK, leafOK = true, true
			log.Printf("analyzer: health used single condition %q for both ratings", fallback)
		}
	}

	if !structuralOK || !leafOK {
		log.Printf("analyzer: health conditions unmappable structural_ok=%t leaf_ok=%t",
			structuralOK, leafOK)
		return nil
	}

	confidence := 0.5
	if v, ok := data["confidence"].(float64); ok {
		confidence = clamp01(v)
	}

	rawObservations := listField(data, "observations", "issues")
	codes, notes := vocab.NormalizeObservations(rawObservations)

	return &models.HealthResult{
		ConditionStructural: structural,
		ConditionLeaf:       leaf,
		Confidence:          round3(confidence),
		Observations:        codes,
		Notes:               notes,
	}
}

// stringField returns the first of the named keys that holds a string.
func stringField(data map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := data[k].(string); ok {
			return s
		}
	}
	return ""
}

// listField returns the first of the named keys that holds a list. A bare
// non-list value is wrapped so single-item answers still normalize.
func listField(data map[string]any, keys ...string) []any {
	for _, k := range keys {
		v, present := data[k]
		if !present || v == nil {
			continue
		}
		if list, ok := v.([]any); ok {
			return list
		}
		return []any{v}
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
