package analyzer

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"tree-analyze-pipeline/llm"
	"tree-analyze-pipeline/models"
	"tree-analyze-pipeline/plantnet"
)

// fakeLLM returns a canned response, or an error when text is empty.
type fakeLLM struct {
	text       string
	lastPrompt string
}

func (f *fakeLLM) Query(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.lastPrompt = req.Prompt
	if f.text == "" {
		return nil, errors.New("provider unavailable")
	}
	return &llm.Response{Text: f.text, Provider: llm.ProviderAnthropic, Model: "test"}, nil
}

type fakePlantNet struct {
	result *plantnet.Result
	err    error
}

func (f *fakePlantNet) Identify(ctx context.Context, photos []models.Photo) (*plantnet.Result, error) {
	return f.result, f.err
}

func testPhotos() []models.Photo {
	return []models.Photo{{Data: []byte("img"), Role: models.RoleFullTreeAngle1}}
}

func TestParseSpeciesGuess(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		g := parseSpeciesGuess(`{"common": "Red Maple", "scientific": "Acer rubrum", "confidence": 0.8}`)
		if g == nil {
			t.Fatal("parseSpeciesGuess() = nil")
		}
		if g.Genus != "Acer" {
			t.Errorf("Genus = %q, want Acer", g.Genus)
		}
		if g.Confidence != 0.8 {
			t.Errorf("Confidence = %v, want 0.8", g.Confidence)
		}
	})

	t.Run("missing scientific name", func(t *testing.T) {
		if g := parseSpeciesGuess(`{"common": "Red Maple", "confidence": 0.8}`); g != nil {
			t.Errorf("parseSpeciesGuess() = %+v, want nil", g)
		}
	})

	t.Run("no JSON", func(t *testing.T) {
		if g := parseSpeciesGuess("I think it is a maple."); g != nil {
			t.Errorf("parseSpeciesGuess() = %+v, want nil", g)
		}
	})
}

func TestSpeciesAnalyze(t *testing.T) {
	pn := &fakePlantNet{result: &plantnet.Result{
		BestMatch: &plantnet.Candidate{
			ScientificName: "Acer rubrum", Genus: "Acer",
			CommonNames: []string{"Red Maple"}, Score: 0.9,
		},
	}}
	model := &fakeLLM{text: `{"common": "Red Maple", "scientific": "Acer rubrum", "confidence": 0.8}`}

	a := &Species{
		llm:      model,
		plantnet: pn,
		geocode: func(ctx context.Context, lat, lon float64) string {
			return "Austin, Texas, US"
		},
	}

	result := a.Analyze(context.Background(), testPhotos(), 30.27, -97.74)
	if result == nil {
		t.Fatal("Analyze() = nil")
	}
	if result.Scientific != "Acer rubrum" {
		t.Errorf("Scientific = %q", result.Scientific)
	}
	if result.Confidence != 0.85 {
		t.Errorf("Confidence = %v, want 0.85", result.Confidence)
	}
	if !strings.Contains(model.lastPrompt, "Austin, Texas, US") {
		t.Error("prompt does not carry the geocoded region")
	}
	if !strings.Contains(model.lastPrompt, "30.27") {
		t.Error("prompt does not carry the latitude")
	}
}

func TestSpeciesAnalyzeSurvivesPlantNetFailure(t *testing.T) {
	a := &Species{
		llm:      &fakeLLM{text: `{"common": "Red Maple", "scientific": "Acer rubrum", "confidence": 0.9}`},
		plantnet: &fakePlantNet{err: errors.New("quota exhausted")},
		geocode:  func(ctx context.Context, lat, lon float64) string { return "unknown" },
	}

	result := a.Analyze(context.Background(), testPhotos(), 0, 0)
	if result == nil {
		t.Fatal("Analyze() = nil, want model-only result")
	}
	if result.Confidence != 0.60 {
		t.Errorf("Confidence = %v, want model-only cap 0.60", result.Confidence)
	}
}

func TestSpeciesAnalyzeBothFail(t *testing.T) {
	a := &Species{
		llm:      &fakeLLM{},
		plantnet: &fakePlantNet{err: errors.New("down")},
		geocode:  func(ctx context.Context, lat, lon float64) string { return "unknown" },
	}
	if result := a.Analyze(context.Background(), testPhotos(), 0, 0); result != nil {
		t.Errorf("Analyze() = %+v, want nil", result)
	}
}

func TestParseHealthResponse(t *testing.T) {
	tests := []struct {
		name           string
		text           string
		wantNil        bool
		wantStructural string
		wantLeaf       string
		wantConfidence float64
		wantCodes      []string
		wantNotes      []string
	}{
		{
			name: "full response",
			text: `{"conditionStructural": "good", "conditionLeaf": "fair", "confidence": 0.75,
				"observations": ["deadwood", "some yellowing of leaves", "weird smell"]}`,
			wantStructural: "good",
			wantLeaf:       "fair",
			wantConfidence: 0.75,
			wantCodes:      []string{"deadwood", "chlorosis"},
			wantNotes:      []string{"weird smell"},
		},
		{
			name:           "aliases normalize",
			text:           `{"conditionStructural": "average", "conditionLeaf": "healthy", "confidence": 0.6}`,
			wantStructural: "fair",
			wantLeaf:       "good",
			wantConfidence: 0.6,
		},
		{
			name:           "snake case keys",
			text:           `{"condition_structural": "good", "condition_leaf": "good", "confidence": 0.8}`,
			wantStructural: "good",
			wantLeaf:       "good",
			wantConfidence: 0.8,
		},
		{
			name:           "single status fallback fills both",
			text:           `{"status": "poor", "confidence": 0.7}`,
			wantStructural: "poor",
			wantLeaf:       "poor",
			wantConfidence: 0.7,
		},
		{
			name:           "non-numeric confidence defaults to 0.5",
			text:           `{"conditionStructural": "good", "conditionLeaf": "good", "confidence": "high"}`,
			wantStructural: "good",
			wantLeaf:       "good",
			wantConfidence: 0.5,
		},
		{
			name:           "out of range confidence clamps",
			text:           `{"conditionStructural": "good", "conditionLeaf": "good", "confidence": 1.4}`,
			wantStructural: "good",
			wantLeaf:       "good",
			wantConfidence: 1.0,
		},
		{
			name:           "issues key accepted",
			text:           `{"conditionStructural": "fair", "conditionLeaf": "fair", "confidence": 0.5, "issues": ["lean"]}`,
			wantStructural: "fair",
			wantLeaf:       "fair",
			wantConfidence: 0.5,
			wantCodes:      []string{"lean"},
		},
		{
			name:    "unmappable conditions",
			text:    `{"conditionStructural": "splendid", "conditionLeaf": "radiant"}`,
			wantNil: true,
		},
		{
			name:    "no JSON",
			text:    "the tree looks fine",
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseHealthResponse(tt.text)
			if tt.wantNil {
				if got != nil {
					t.Errorf("parseHealthResponse() = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("parseHealthResponse() = nil")
			}
			if got.ConditionStructural != tt.wantStructural {
				t.Errorf("ConditionStructural = %q, want %q", got.ConditionStructural, tt.wantStructural)
			}
			if got.ConditionLeaf != tt.wantLeaf {
				t.Errorf("ConditionLeaf = %q, want %q", got.ConditionLeaf, tt.wantLeaf)
			}
			if got.Confidence != tt.wantConfidence {
				t.Errorf("Confidence = %v, want %v", got.Confidence, tt.wantConfidence)
			}
			if tt.wantCodes != nil && !reflect.DeepEqual(got.Observations, tt.wantCodes) {
				t.Errorf("Observations = %v, want %v", got.Observations, tt.wantCodes)
			}
			if tt.wantNotes != nil && !reflect.DeepEqual(got.Notes, tt.wantNotes) {
				t.Errorf("Notes = %v, want %v", got.Notes, tt.wantNotes)
			}
		})
	}
}

func TestParseMeasurementResponse(t *testing.T) {
	t.Run("conversions", func(t *testing.T) {
		got := parseMeasurementResponse(`{"dbhCm": 25.4, "heightM": 3.048, "crownWidthM": 5.0, "numStems": 2}`)
		if got == nil {
			t.Fatal("parseMeasurementResponse() = nil")
		}
		if got.DbhIn != 10.0 {
			t.Errorf("DbhIn = %v, want 10.0", got.DbhIn)
		}
		if got.HeightFt != 10.0 {
			t.Errorf("HeightFt = %v, want 10.0", got.HeightFt)
		}
		if got.CrownWidthM == nil || *got.CrownWidthM != 5.0 {
			t.Errorf("CrownWidthM = %v, want 5.0", got.CrownWidthM)
		}
		if got.CrownWidthFt == nil || *got.CrownWidthFt != 16.4 {
			t.Errorf("CrownWidthFt = %v, want 16.4", got.CrownWidthFt)
		}
		if got.NumStems != 2 {
			t.Errorf("NumStems = %d, want 2", got.NumStems)
		}
	})

	t.Run("crown width optional", func(t *testing.T) {
		got := parseMeasurementResponse(`{"dbhCm": 30, "heightM": 12}`)
		if got == nil {
			t.Fatal("parseMeasurementResponse() = nil")
		}
		if got.CrownWidthM != nil || got.CrownWidthFt != nil {
			t.Error("crown width should be nil when absent")
		}
		if got.NumStems != 1 {
			t.Errorf("NumStems = %d, want default 1", got.NumStems)
		}
	})

	t.Run("non-positive crown width dropped", func(t *testing.T) {
		got := parseMeasurementResponse(`{"dbhCm": 30, "heightM": 12, "crownWidthM": -1}`)
		if got == nil || got.CrownWidthM != nil {
			t.Errorf("got %+v, want result with nil crown width", got)
		}
	})

	t.Run("required fields", func(t *testing.T) {
		for _, text := range []string{
			`{"heightM": 12}`,
			`{"dbhCm": 30}`,
			`{"dbhCm": 0, "heightM": 12}`,
			`{"dbhCm": 30, "heightM": -2}`,
			`{"dbhCm": "thick", "heightM": 12}`,
		} {
			if got := parseMeasurementResponse(text); got != nil {
				t.Errorf("parseMeasurementResponse(%s) = %+v, want nil", text, got)
			}
		}
	})
}

func TestMeasurementsPromptCarriesSpecies(t *testing.T) {
	model := &fakeLLM{text: `{"dbhCm": 30, "heightM": 12}`}
	a := NewMeasurements(model)

	if got := a.Analyze(context.Background(), testPhotos(), "Acer rubrum"); got == nil {
		t.Fatal("Analyze() = nil")
	}
	if !strings.Contains(model.lastPrompt, "Acer rubrum") {
		t.Error("prompt does not mention the identified species")
	}

	a.Analyze(context.Background(), testPhotos(), "")
	if strings.Contains(model.lastPrompt, "identified as") {
		t.Error("prompt carries a species note without a species")
	}
}

func TestParseSiteResponse(t *testing.T) {
	t.Run("full response", func(t *testing.T) {
		got := parseSiteResponse(`{
			"conditionRating": "Good",
			"crownDieback": false,
			"trunkDefects": ["cavity", "weird bump", "LEAN"],
			"locationType": "street",
			"siteType": "tree_lawn",
			"overheadUtilityConflict": "yes",
			"maintenanceFlag": "routine",
			"sidewalkDamage": true,
			"mulchSoilCondition": "volcano_mulch",
			"riskFlag": "no"
		}`)
		if got == nil {
			t.Fatal("parseSiteResponse() = nil")
		}
		if got.ConditionRating == nil || *got.ConditionRating != "good" {
			t.Errorf("ConditionRating = %v", got.ConditionRating)
		}
		if !reflect.DeepEqual(got.TrunkDefects, []string{"cavity", "lean"}) {
			t.Errorf("TrunkDefects = %v", got.TrunkDefects)
		}
		if got.OverheadUtilityConflict == nil || !*got.OverheadUtilityConflict {
			t.Error("OverheadUtilityConflict should parse string yes as true")
		}
		if got.RiskFlag == nil || *got.RiskFlag {
			t.Error("RiskFlag should parse string no as false")
		}
	})

	t.Run("invalid enums dropped", func(t *testing.T) {
		got := parseSiteResponse(`{"locationType": "driveway", "siteType": "balcony", "riskFlag": false}`)
		if got == nil {
			t.Fatal("parseSiteResponse() = nil, one bool field is usable")
		}
		if got.LocationType != nil || got.SiteType != nil {
			t.Errorf("invalid enums kept: %+v", got)
		}
	})

	t.Run("zero usable fields", func(t *testing.T) {
		if got := parseSiteResponse(`{"locationType": "driveway", "crownDieback": 7}`); got != nil {
			t.Errorf("parseSiteResponse() = %+v, want nil", got)
		}
	})

	t.Run("no JSON", func(t *testing.T) {
		if got := parseSiteResponse("nice spot"); got != nil {
			t.Errorf("parseSiteResponse() = %+v, want nil", got)
		}
	})
}
