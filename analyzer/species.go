// Package analyzer contains the four per-observation analyzers. Each one
// turns photographs into a typed result and absorbs its own failures; a
// nil result means the analyzer produced nothing usable.
package analyzer

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"tree-analyze-pipeline/config"
	"tree-analyze-pipeline/geocode"
	"tree-analyze-pipeline/llm"
	"tree-analyze-pipeline/models"
	"tree-analyze-pipeline/parser"
	"tree-analyze-pipeline/plantnet"
)

// QueryClient is the multimodal model dependency of the analyzers.
type QueryClient interface {
	Query(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// SpeciesIdentifier is the structured identification dependency.
type SpeciesIdentifier interface {
	Identify(ctx context.Context, photos []models.Photo) (*plantnet.Result, error)
}

// GeocodeFunc resolves coordinates to a region string for prompt context.
type GeocodeFunc func(ctx context.Context, lat, lon float64) string

// Species identifies the tree species by running the structured
// identifier and the model concurrently and reconciling their answers.
type Species struct {
	llm          QueryClient
	plantnet     SpeciesIdentifier
	localSpecies []string
	geocode      GeocodeFunc
}

// NewSpecies creates the species analyzer.
func NewSpecies(llmClient QueryClient, pnClient SpeciesIdentifier, cfg *config.Config) *Species {
	return &Species{
		llm:          llmClient,
		plantnet:     pnClient,
		localSpecies: cfg.LocalCommonSpecies,
		geocode:      geocode.ReverseGeocode,
	}
}

// Analyze runs both identification sources in parallel. Either source may
// fail without sinking the other; nil comes back only when both do.
func (a *Species) Analyze(ctx context.Context, photos []models.Photo, lat, lon float64) *models.SpeciesResult {
	region := "unknown"
	if a.geocode != nil {
		region = a.geocode(ctx, lat, lon)
	}
	prompt := fmt.Sprintf(speciesPromptFormat, lat, lon, region)

	var (
		wg       sync.WaitGroup
		pnResult *plantnet.Result
		guess    *Guess
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		result, err := a.plantnet.Identify(ctx, photos)
		if err != nil {
			log.Printf("analyzer: plantnet identification failed err=%v", err)
			return
		}
		pnResult = result
	}()
	go func() {
		defer wg.Done()
		resp, err := a.llm.Query(ctx, llm.Request{Prompt: prompt, Images: toImages(photos)})
		if err != nil {
			log.Printf("analyzer: model species identification failed err=%v", err)
			return
		}
		guess = parseSpeciesGuess(resp.Text)
	}()
	wg.Wait()

	var pnBest *plantnet.Candidate
	if pnResult != nil {
		pnBest = pnResult.BestMatch
	}

	return ApplyGeographicBoost(Consensus(pnBest, guess), a.localSpecies)
}

// parseSpeciesGuess extracts a species identification from model output.
// An empty scientific name makes the whole guess unusable.
func parseSpeciesGuess(text string) *Guess {
	data := parser.ExtractJSON(text)
	if data == nil {
		log.Printf("analyzer: no JSON in species response")
		return nil
	}

	scientific, _ := data["scientific"].(string)
	scientific = strings.TrimSpace(scientific)
	if scientific == "" {
		log.Printf("analyzer: species response has no scientific name")
		return nil
	}

	common, _ := data["common"].(string)
	confidence, _ := data["confidence"].(float64)

	return &Guess{
		Common:     common,
		Scientific: scientific,
		Genus:      strings.Fields(scientific)[0],
		Confidence: confidence,
	}
}

func toImages(photos []models.Photo) []llm.Image {
	images := make([]llm.Image, 0, len(photos))
	for _, p := range photos {
		images = append(images, llm.Image{Data: p.Data})
	}
	return images
}
