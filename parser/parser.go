package parser

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Models frequently wrap structured output in prose or markdown fences.
// Extraction tries the cheapest strategy first and keeps the order fixed
// so the same response always yields the same object.
var (
	fencedJSONRe = regexp.MustCompile("(?s)```json\\s*\\n(.*?)\\n\\s*```")
	fencedRe     = regexp.MustCompile("(?s)```\\s*\\n(.*?)\\n\\s*```")
	braceRe      = regexp.MustCompile(`\{[^{}]*(?:\{[^{}]*\}[^{}]*)*\}`)
)

// ExtractJSON extracts a JSON object from model response text.
//
// Order of attempts: direct parse, ```json fence, bare fence, then a
// brace-balanced scan over the whole text. Returns nil when no strategy
// yields a valid object.
func ExtractJSON(text string) map[string]any {
	trimmed := strings.TrimSpace(text)

	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
		return obj
	}

	for _, re := range []*regexp.Regexp{fencedJSONRe, fencedRe} {
		if m := re.FindStringSubmatch(text); m != nil {
			candidate := strings.TrimSpace(m[1])
			obj = nil
			if err := json.Unmarshal([]byte(candidate), &obj); err == nil {
				return obj
			}
		}
	}

	if m := braceRe.FindString(text); m != "" {
		obj = nil
		if err := json.Unmarshal([]byte(strings.TrimSpace(m)), &obj); err == nil {
			return obj
		}
	}

	return nil
}
