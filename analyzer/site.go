package analyzer

import (
	"context"
	"log"
	"strings"

	"tree-analyze-pipeline/llm"
	"tree-analyze-pipeline/models"
	"tree-analyze-pipeline/parser"
	"tree-analyze-pipeline/vocab"
)

// Site performs the Level 1 inspection field assessment.
type Site struct {
	llm QueryClient
}

// NewSite creates the site analyzer.
func NewSite(llmClient QueryClient) *Site {
	return &Site{llm: llmClient}
}

// Analyze queries the model for site fields. Returns nil when the query
// fails or the response contains zero usable fields.
func (a *Site) Analyze(ctx context.Context, photos []models.Photo) *models.SiteResult {
	resp, err := a.llm.Query(ctx, llm.Request{Prompt: sitePrompt, Images: toImages(photos)})
	if err != nil {
		log.Printf("analyzer: site query failed err=%v", err)
		return nil
	}
	return parseSiteResponse(resp.Text)
}

func parseSiteResponse(text string) *models.SiteResult {
	data := parser.ExtractJSON(text)
	if data == nil {
		log.Printf("analyzer: no JSON in site response")
		return nil
	}

	var trunkDefects []string
	if raw, ok := data["trunkDefects"].([]any); ok {
		for _, item := range raw {
			s, ok := item.(string)
			if !ok {
				continue
			}
			cleaned := strings.ToLower(strings.TrimSpace(s))
			if vocab.ValidTrunkDefects[cleaned] {
				trunkDefects = append(trunkDefects, cleaned)
			}
		}
	}

	result := &models.SiteResult{
		ConditionRating:         vocab.NormalizeEnum(data["conditionRating"], vocab.ValidConditions),
		CrownDieback:            vocab.ParseBool(data["crownDieback"]),
		TrunkDefects:            trunkDefects,
		LocationType:            vocab.NormalizeEnum(data["locationType"], vocab.ValidLocationTypes),
		SiteType:                vocab.NormalizeEnum(data["siteType"], vocab.ValidSiteTypes),
		OverheadUtilityConflict: vocab.ParseBool(data["overheadUtilityConflict"]),
		MaintenanceFlag:         vocab.NormalizeEnum(data["maintenanceFlag"], vocab.ValidMaintenanceFlags),
		SidewalkDamage:          vocab.ParseBool(data["sidewalkDamage"]),
		MulchSoilCondition:      vocab.NormalizeEnum(data["mulchSoilCondition"], vocab.ValidMulchConditions),
		RiskFlag:                vocab.ParseBool(data["riskFlag"]),
	}

	filled := 0
	if len(result.TrunkDefects) > 0 {
		filled++
	}
	for _, p := range []*string{
		result.ConditionRating, result.LocationType, result.SiteType,
		result.MaintenanceFlag, result.MulchSoilCondition,
	} {
		if p != nil {
			filled++
		}
	}
	for _, p := range []*bool{
		result.CrownDieback, result.OverheadUtilityConflict,
		result.SidewalkDamage, result.RiskFlag,
	} {
		if p != nil {
			filled++
		}
	}

	if filled == 0 {
		log.Printf("analyzer: site response has no usable fields")
		return nil
	}

	log.Printf("analyzer: site fields_filled=%d", filled)
	return result
}
