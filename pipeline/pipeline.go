// Package pipeline orchestrates the analysis of one observation: quality
// gate, concurrent analyzers, partial-tolerant assembly and the result
// handoff to the internal API.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"

	"tree-analyze-pipeline/metrics"
	"tree-analyze-pipeline/models"
	"tree-analyze-pipeline/quality"
)

// State tracks where an observation is in its run. States only move
// forward; Failed is terminal.
type State string

const (
	StateFetched         State = "fetched"
	StateQualityFiltered State = "quality_filtered"
	StateAnalyzing       State = "analyzing"
	StateAssembling      State = "assembling"
	StatePosted          State = "posted"
	StateFailed          State = "failed"
)

// Analyzer dependencies, satisfied by the analyzer package and by test
// fakes.
type (
	SpeciesAnalyzer interface {
		Analyze(ctx context.Context, photos []models.Photo, lat, lon float64) *models.SpeciesResult
	}
	HealthAnalyzer interface {
		Analyze(ctx context.Context, photos []models.Photo) *models.HealthResult
	}
	MeasurementAnalyzer interface {
		Analyze(ctx context.Context, photos []models.Photo, speciesScientific string) *models.MeasurementResult
	}
	SiteAnalyzer interface {
		Analyze(ctx context.Context, photos []models.Photo) *models.SiteResult
	}
)

// ResultPoster delivers the assembled result to the internal API.
type ResultPoster interface {
	Post(ctx context.Context, observationID string, result *models.AIResult) error
}

// Pipeline runs the full analysis for one observation at a time.
type Pipeline struct {
	species      SpeciesAnalyzer
	health       HealthAnalyzer
	measurements MeasurementAnalyzer
	site         SiteAnalyzer
	poster       ResultPoster
}

// New creates a pipeline from its analyzer and poster dependencies.
func New(species SpeciesAnalyzer, health HealthAnalyzer, measurements MeasurementAnalyzer, site SiteAnalyzer, poster ResultPoster) *Pipeline {
	return &Pipeline{
		species:      species,
		health:       health,
		measurements: measurements,
		site:         site,
		poster:       poster,
	}
}

// Run processes one observation end to end and returns the assembled
// result. Individual analyzer failures are tolerated; the run fails only
// when no photos survive the quality gate, every analyzer comes back
// empty, or the result cannot be posted.
func (p *Pipeline) Run(ctx context.Context, obs models.Observation, photos []models.Photo) (*models.AIResult, error) {
	state := StateFetched
	log.Printf("pipeline: observation=%s state=%s photos=%d", obs.ID, state, len(photos))

	if len(photos) == 0 {
		p.fail(obs.ID, "no photos")
		return nil, fmt.Errorf("observation %s has no photos", obs.ID)
	}

	passed, issues := quality.Filter(photos)
	metrics.QualityPhotosTotal.WithLabelValues("passed").Add(float64(len(passed)))
	metrics.QualityPhotosTotal.WithLabelValues("rejected").Add(float64(len(photos) - len(passed)))
	if len(issues) > 0 {
		log.Printf("pipeline: observation=%s quality_issues=%q", obs.ID, issues)
	}
	if len(passed) == 0 {
		p.fail(obs.ID, "no photos passed quality gate")
		return nil, fmt.Errorf("observation %s: no photos passed quality gate: %v", obs.ID, issues)
	}

	state = StateQualityFiltered
	log.Printf("pipeline: observation=%s state=%s photos_passed=%d", obs.ID, state, len(passed))

	state = StateAnalyzing
	log.Printf("pipeline: observation=%s state=%s", obs.ID, state)

	// Species, health and site are independent; each absorbs its own
	// failure and reports nil.
	var (
		wg      sync.WaitGroup
		species *models.SpeciesResult
		health  *models.HealthResult
		site    *models.SiteResult
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		species = p.species.Analyze(ctx, passed, obs.Latitude, obs.Longitude)
		p.recordOutcome("species", species != nil)
	}()
	go func() {
		defer wg.Done()
		health = p.health.Analyze(ctx, passed)
		p.recordOutcome("health", health != nil)
	}()
	go func() {
		defer wg.Done()
		site = p.site.Analyze(ctx, passed)
		p.recordOutcome("site", site != nil)
	}()
	wg.Wait()

	// Measurements run after species so the prompt can carry the
	// identified name for allometric sanity checks.
	speciesName := ""
	if species != nil {
		speciesName = species.Scientific
	}
	measurements := p.measurements.Analyze(ctx, passed, speciesName)
	p.recordOutcome("measurements", measurements != nil)

	state = StateAssembling
	log.Printf("pipeline: observation=%s state=%s species=%t health=%t measurements=%t site=%t",
		obs.ID, state, species != nil, health != nil, measurements != nil, site != nil)

	result := &models.AIResult{
		Species:      species,
		Health:       health,
		Measurements: measurements,
		Site:         site,
	}
	if result.Empty() {
		p.fail(obs.ID, "all analyzers returned nothing")
		return nil, fmt.Errorf("observation %s: all analyzers failed", obs.ID)
	}

	if p.poster != nil {
		if err := p.poster.Post(ctx, obs.ID, result); err != nil {
			p.fail(obs.ID, "result post failed")
			return nil, fmt.Errorf("failed to post result for observation %s: %w", obs.ID, err)
		}
	}

	state = StatePosted
	log.Printf("pipeline: observation=%s state=%s", obs.ID, state)
	return result, nil
}

func (p *Pipeline) fail(observationID, reason string) {
	log.Printf("pipeline: observation=%s state=%s reason=%s", observationID, StateFailed, reason)
}

func (p *Pipeline) recordOutcome(analyzer string, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "empty"
	}
	metrics.AnalyzerOutcomeTotal.WithLabelValues(analyzer, outcome).Inc()
}
