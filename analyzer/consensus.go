package analyzer

import (
	"log"
	"math"
	"strings"

	"tree-analyze-pipeline/models"
	"tree-analyze-pipeline/plantnet"
)

// Confidence caps for the consensus tiers. Single-source results are
// always reported with reduced confidence.
const (
	capBothAgree      = 0.95
	capGenusAgree     = 0.70
	capDisagree       = 0.40
	capLLMOnly        = 0.60
	capStructuredOnly = 0.70

	geographicBoost = 0.05
)

// Guess is a species identification parsed from model output.
type Guess struct {
	Common     string
	Scientific string
	Genus      string
	Confidence float64
}

// Consensus reconciles the structured identification with the model's
// guess. Agreement on the full binomial averages the two confidences;
// partial or no agreement falls back to the structured result with a
// progressively lower cap. Either input may be nil.
func Consensus(pn *plantnet.Candidate, guess *Guess) *models.SpeciesResult {
	if pn == nil && guess == nil {
		log.Printf("analyzer: species consensus has no inputs")
		return nil
	}

	if pn == nil {
		log.Printf("analyzer: species consensus from model only scientific=%q", guess.Scientific)
		return &models.SpeciesResult{
			Common:     guess.Common,
			Scientific: guess.Scientific,
			Genus:      guess.Genus,
			Confidence: round3(math.Min(guess.Confidence, capLLMOnly)),
		}
	}

	pnCommon := ""
	if len(pn.CommonNames) > 0 {
		pnCommon = pn.CommonNames[0]
	}

	if guess == nil {
		log.Printf("analyzer: species consensus from plantnet only scientific=%q", pn.ScientificName)
		return &models.SpeciesResult{
			Common:     pnCommon,
			Scientific: pn.ScientificName,
			Genus:      pn.Genus,
			Confidence: round3(math.Min(pn.Score, capStructuredOnly)),
		}
	}

	common := pnCommon
	if common == "" {
		common = guess.Common
	}

	pnScientific := fold(pn.ScientificName)
	guessScientific := fold(guess.Scientific)

	var confidence float64
	switch {
	case pnScientific == guessScientific:
		confidence = math.Min((pn.Score+guess.Confidence)/2, capBothAgree)
		log.Printf("analyzer: species consensus agree scientific=%q confidence=%.3f",
			pn.ScientificName, confidence)
	case fold(pn.Genus) == fold(guess.Genus):
		confidence = math.Min(pn.Score, capGenusAgree)
		log.Printf("analyzer: species consensus genus-only genus=%q plantnet=%q model=%q confidence=%.3f",
			pn.Genus, pn.ScientificName, guess.Scientific, confidence)
	default:
		confidence = math.Min(pn.Score, capDisagree)
		log.Printf("analyzer: species consensus disagree plantnet=%q model=%q confidence=%.3f",
			pn.ScientificName, guess.Scientific, confidence)
	}

	return &models.SpeciesResult{
		Common:     common,
		Scientific: pn.ScientificName,
		Genus:      pn.Genus,
		Confidence: round3(confidence),
	}
}

// ApplyGeographicBoost raises confidence for species on the caller's
// local common-species list, capped at the full-agreement ceiling.
func ApplyGeographicBoost(result *models.SpeciesResult, localSpecies []string) *models.SpeciesResult {
	if result == nil {
		return nil
	}
	for _, s := range localSpecies {
		if strings.EqualFold(strings.TrimSpace(s), strings.TrimSpace(result.Scientific)) {
			boosted := math.Min(result.Confidence+geographicBoost, capBothAgree)
			log.Printf("analyzer: geographic boost scientific=%q confidence=%.3f -> %.3f",
				result.Scientific, result.Confidence, boosted)
			out := *result
			out.Confidence = round3(boosted)
			return &out
		}
	}
	return result
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
