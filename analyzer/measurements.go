package analyzer

import (
	"context"
	"fmt"
	"log"

	"tree-analyze-pipeline/llm"
	"tree-analyze-pipeline/models"
	"tree-analyze-pipeline/parser"
)

// Conversion constants for the imperial export fields.
const (
	cmPerInch  = 2.54
	ftPerMeter = 3.28084
)

// Measurements estimates DBH, height, crown width and stem count.
type Measurements struct {
	llm QueryClient
}

// NewMeasurements creates the measurement analyzer.
func NewMeasurements(llmClient QueryClient) *Measurements {
	return &Measurements{llm: llmClient}
}

// Analyze queries the model for measurement estimates. A known species
// name is appended to the prompt so the model can sanity-check its
// estimates against species-typical proportions.
func (a *Measurements) Analyze(ctx context.Context, photos []models.Photo, speciesScientific string) *models.MeasurementResult {
	prompt := measurementPrompt
	if speciesScientific != "" {
		prompt += fmt.Sprintf(measurementSpeciesNoteFormat, speciesScientific)
	}

	resp, err := a.llm.Query(ctx, llm.Request{Prompt: prompt, Images: toImages(photos)})
	if err != nil {
		log.Printf("analyzer: measurement query failed err=%v", err)
		return nil
	}
	result := parseMeasurementResponse(resp.Text)
	if result != nil {
		log.Printf("analyzer: measurements dbh_cm=%.1f height_m=%.1f stems=%d",
			result.DbhCm, result.HeightM, result.NumStems)
	}
	return result
}

// parseMeasurementResponse validates the metric values and derives the
// imperial conversions. The model never supplies imperial values itself.
func parseMeasurementResponse(text string) *models.MeasurementResult {
	data := parser.ExtractJSON(text)
	if data == nil {
		log.Printf("analyzer: no JSON in measurement response")
		return nil
	}

	dbhCm, dbhOK := data["dbhCm"].(float64)
	heightM, heightOK := data["heightM"].(float64)
	if !dbhOK || !heightOK {
		log.Printf("analyzer: measurement response missing dbhCm or heightM: %v", data)
		return nil
	}
	if dbhCm <= 0 || heightM <= 0 {
		log.Printf("analyzer: measurements must be positive dbh_cm=%.2f height_m=%.2f", dbhCm, heightM)
		return nil
	}

	var crownWidthM, crownWidthFt *float64
	if v, ok := data["crownWidthM"].(float64); ok && v > 0 {
		m := round1(v)
		ft := round1(v * ftPerMeter)
		crownWidthM, crownWidthFt = &m, &ft
	}

	numStems := 1
	if v, ok := data["numStems"].(float64); ok && int(v) > 1 {
		numStems = int(v)
	}

	return &models.MeasurementResult{
		DbhCm:        round1(dbhCm),
		DbhIn:        round1(dbhCm / cmPerInch),
		HeightM:      round1(heightM),
		HeightFt:     round1(heightM * ftPerMeter),
		CrownWidthM:  crownWidthM,
		CrownWidthFt: crownWidthFt,
		NumStems:     numStems,
	}
}
