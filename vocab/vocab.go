// Package vocab holds the controlled vocabularies for municipal tree
// inventory fields and the normalizers that map free-form model output
// onto them. Normalizers never guess: a value that cannot be mapped is
// dropped (or preserved as a note), not coerced.
package vocab

import (
	"log"
	"strings"
)

// ValidConditions is the 6-tier condition scale used for both structural
// and leaf ratings.
var ValidConditions = map[string]bool{
	"excellent": true,
	"good":      true,
	"fair":      true,
	"poor":      true,
	"critical":  true,
	"dead":      true,
}

// conditionAliases maps common model deviations onto the 6-tier scale.
var conditionAliases = map[string]string{
	"average":            "fair",
	"moderate":           "fair",
	"very poor":          "critical",
	"severely declining": "critical",
	"dying":              "critical",
	"healthy":            "good",
	"very good":          "good",
	"unhealthy":          "poor",
	"bad":                "poor",
}

// ValidObservations are the structured observation codes matching
// municipal inventory standards.
var ValidObservations = map[string]bool{
	"deadwood":               true,
	"decay":                  true,
	"cavities":               true,
	"cracks":                 true,
	"root_damage":            true,
	"lean":                   true,
	"codominant_stems":       true,
	"included_bark":          true,
	"canopy_dieback":         true,
	"chlorosis":              true,
	"pest_damage":            true,
	"fungal_fruiting_bodies": true,
	"girdling_roots":         true,
	"mechanical_damage":      true,
	"poor_pruning":           true,
	"soil_compaction":        true,
	"limited_growing_space":  true,
}

type observationAlias struct {
	alias string
	code  string
}

// observationAliases maps common model phrasing onto observation codes.
// Kept as an ordered slice: the substring pass takes the first matching
// alias, so iteration order is part of the contract.
var observationAliases = []observationAlias{
	{"dead wood", "deadwood"},
	{"dead branches", "deadwood"},
	{"dieback", "canopy_dieback"},
	{"crown dieback", "canopy_dieback"},
	{"cavity", "cavities"},
	{"trunk cavity", "cavities"},
	{"crack", "cracks"},
	{"trunk crack", "cracks"},
	{"fungus", "fungal_fruiting_bodies"},
	{"fungi", "fungal_fruiting_bodies"},
	{"conks", "fungal_fruiting_bodies"},
	{"mushrooms", "fungal_fruiting_bodies"},
	{"leaning", "lean"},
	{"co-dominant stems", "codominant_stems"},
	{"co-dominant", "codominant_stems"},
	{"included bark", "included_bark"},
	{"bark inclusion", "included_bark"},
	{"yellowing", "chlorosis"},
	{"yellow leaves", "chlorosis"},
	{"pest", "pest_damage"},
	{"insect damage", "pest_damage"},
	{"insects", "pest_damage"},
	{"root damage", "root_damage"},
	{"exposed roots", "root_damage"},
	{"heaving", "root_damage"},
	{"girdling", "girdling_roots"},
	{"girdling root", "girdling_roots"},
	{"wound", "mechanical_damage"},
	{"mechanical", "mechanical_damage"},
	{"bark damage", "mechanical_damage"},
	{"bad pruning", "poor_pruning"},
	{"improper pruning", "poor_pruning"},
	{"topping", "poor_pruning"},
	{"compacted soil", "soil_compaction"},
	{"compaction", "soil_compaction"},
	{"limited space", "limited_growing_space"},
	{"restricted growing", "limited_growing_space"},
}

// observationAliasIndex gives exact-match lookups over the same table.
var observationAliasIndex = func() map[string]string {
	m := make(map[string]string, len(observationAliases))
	for _, a := range observationAliases {
		if _, ok := m[a.alias]; !ok {
			m[a.alias] = a.code
		}
	}
	return m
}()

// Site field vocabularies (Level 1 inspection).
var (
	ValidLocationTypes = map[string]bool{
		"street": true, "park": true, "yard": true, "median": true,
		"parking_lot": true, "commercial": true, "institutional": true,
		"natural_area": true, "other": true,
	}
	ValidSiteTypes = map[string]bool{
		"tree_lawn": true, "cutout": true, "open_soil": true,
		"raised_planter": true, "container": true, "unrestricted": true,
		"other": true,
	}
	ValidMaintenanceFlags = map[string]bool{
		"none": true, "routine": true, "priority": true, "urgent": true,
	}
	ValidMulchConditions = map[string]bool{
		"good_mulch": true, "no_mulch": true, "volcano_mulch": true,
		"compacted": true, "bare_soil": true, "grass_to_trunk": true,
		"other": true,
	}
	ValidTrunkDefects = map[string]bool{
		"cavity": true, "crack": true, "decay": true, "lean": true,
		"wound": true, "conk": true, "bark_damage": true,
		"codominant_stems": true,
	}
)

// NormalizeCondition maps a raw condition string onto the 6-tier scale.
// The second return is false when the value cannot be mapped.
func NormalizeCondition(raw string) (string, bool) {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	if ValidConditions[cleaned] {
		return cleaned, true
	}
	if mapped, ok := conditionAliases[cleaned]; ok {
		log.Printf("vocab: mapped condition %q -> %q", raw, mapped)
		return mapped, true
	}
	return "", false
}

// NormalizeObservations maps raw observation values onto structured codes.
// Matching order per item: exact code, exact alias, then first alias found
// as a substring. Codes are deduplicated keeping first-seen order.
// Non-string items are skipped; unmatched strings come back as notes.
func NormalizeObservations(raw []any) (codes, notes []string) {
	seen := make(map[string]bool)
	add := func(code string) {
		if !seen[code] {
			seen[code] = true
			codes = append(codes, code)
		}
	}

	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			continue
		}
		cleaned := strings.ToLower(strings.TrimSpace(s))

		if ValidObservations[cleaned] {
			add(cleaned)
			continue
		}
		if code, ok := observationAliasIndex[cleaned]; ok {
			add(code)
			continue
		}

		matched := false
		for _, a := range observationAliases {
			if strings.Contains(cleaned, a.alias) {
				add(a.code)
				matched = true
				break
			}
		}
		if !matched {
			notes = append(notes, strings.TrimSpace(s))
		}
	}

	return codes, notes
}

// ParseBool converts a loosely-typed value into a tri-state bool. Strings
// "true", "yes" and "1" (case-insensitive) are true, any other string is
// false, anything that is not a bool or string is nil.
func ParseBool(val any) *bool {
	switch v := val.(type) {
	case bool:
		return &v
	case string:
		b := false
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1":
			b = true
		}
		return &b
	default:
		return nil
	}
}

// NormalizeEnum validates a loosely-typed value against a closed set,
// returning nil for anything outside it.
func NormalizeEnum(val any, valid map[string]bool) *string {
	if val == nil {
		return nil
	}
	s, ok := val.(string)
	if !ok {
		return nil
	}
	cleaned := strings.ToLower(strings.TrimSpace(s))
	if !valid[cleaned] {
		return nil
	}
	return &cleaned
}
