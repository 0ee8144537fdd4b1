package analyzer

import (
	"testing"

	"tree-analyze-pipeline/plantnet"
)

func TestConsensus(t *testing.T) {
	tests := []struct {
		name           string
		pn             *plantnet.Candidate
		guess          *Guess
		wantNil        bool
		wantScientific string
		wantCommon     string
		wantConfidence float64
	}{
		{
			name:    "both absent",
			wantNil: true,
		},
		{
			name:           "model only capped at 0.60",
			guess:          &Guess{Common: "Red Maple", Scientific: "Acer rubrum", Genus: "Acer", Confidence: 0.9},
			wantScientific: "Acer rubrum",
			wantCommon:     "Red Maple",
			wantConfidence: 0.60,
		},
		{
			name:           "model only below cap keeps own confidence",
			guess:          &Guess{Scientific: "Acer rubrum", Genus: "Acer", Confidence: 0.35},
			wantScientific: "Acer rubrum",
			wantConfidence: 0.35,
		},
		{
			name: "plantnet only capped at 0.70",
			pn: &plantnet.Candidate{
				ScientificName: "Quercus alba", Genus: "Quercus",
				CommonNames: []string{"White Oak"}, Score: 0.88,
			},
			wantScientific: "Quercus alba",
			wantCommon:     "White Oak",
			wantConfidence: 0.70,
		},
		{
			name: "full agreement averages confidences",
			pn: &plantnet.Candidate{
				ScientificName: "Acer rubrum", Genus: "Acer",
				CommonNames: []string{"Red Maple"}, Score: 0.90,
			},
			guess:          &Guess{Common: "red maple", Scientific: "Acer rubrum", Genus: "Acer", Confidence: 0.80},
			wantScientific: "Acer rubrum",
			wantCommon:     "Red Maple",
			wantConfidence: 0.85,
		},
		{
			name: "full agreement is case and space insensitive",
			pn: &plantnet.Candidate{
				ScientificName: "Acer rubrum", Genus: "Acer", Score: 1.0,
			},
			guess:          &Guess{Common: "Red Maple", Scientific: "  ACER RUBRUM  ", Genus: "ACER", Confidence: 1.0},
			wantScientific: "Acer rubrum",
			wantCommon:     "Red Maple",
			wantConfidence: 0.95,
		},
		{
			name: "genus agreement uses plantnet species capped at 0.70",
			pn: &plantnet.Candidate{
				ScientificName: "Acer saccharum", Genus: "Acer",
				CommonNames: []string{"Sugar Maple"}, Score: 0.92,
			},
			guess:          &Guess{Common: "Red Maple", Scientific: "Acer rubrum", Genus: "Acer", Confidence: 0.9},
			wantScientific: "Acer saccharum",
			wantCommon:     "Sugar Maple",
			wantConfidence: 0.70,
		},
		{
			name: "disagreement uses plantnet capped at 0.40",
			pn: &plantnet.Candidate{
				ScientificName: "Ulmus americana", Genus: "Ulmus",
				CommonNames: []string{"American Elm"}, Score: 0.85,
			},
			guess:          &Guess{Common: "Red Maple", Scientific: "Acer rubrum", Genus: "Acer", Confidence: 0.9},
			wantScientific: "Ulmus americana",
			wantCommon:     "American Elm",
			wantConfidence: 0.40,
		},
		{
			name: "plantnet without common names falls back to model's",
			pn: &plantnet.Candidate{
				ScientificName: "Acer rubrum", Genus: "Acer", Score: 0.5,
			},
			guess:          &Guess{Common: "Red Maple", Scientific: "Acer rubrum", Genus: "Acer", Confidence: 0.5},
			wantScientific: "Acer rubrum",
			wantCommon:     "Red Maple",
			wantConfidence: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Consensus(tt.pn, tt.guess)

			if tt.wantNil {
				if got != nil {
					t.Errorf("Consensus() = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("Consensus() = nil, want result")
			}
			if got.Scientific != tt.wantScientific {
				t.Errorf("Scientific = %q, want %q", got.Scientific, tt.wantScientific)
			}
			if tt.wantCommon != "" && got.Common != tt.wantCommon {
				t.Errorf("Common = %q, want %q", got.Common, tt.wantCommon)
			}
			if got.Confidence != tt.wantConfidence {
				t.Errorf("Confidence = %v, want %v", got.Confidence, tt.wantConfidence)
			}
		})
	}
}

func TestApplyGeographicBoost(t *testing.T) {
	local := []string{"Acer rubrum", "Quercus virginiana"}

	t.Run("boosts local species", func(t *testing.T) {
		in := Consensus(nil, &Guess{Scientific: "Acer rubrum", Genus: "Acer", Confidence: 0.5})
		got := ApplyGeographicBoost(in, local)
		if got.Confidence != 0.55 {
			t.Errorf("Confidence = %v, want 0.55", got.Confidence)
		}
	})

	t.Run("case insensitive match", func(t *testing.T) {
		in := Consensus(nil, &Guess{Scientific: "ACER RUBRUM", Genus: "ACER", Confidence: 0.5})
		got := ApplyGeographicBoost(in, local)
		if got.Confidence != 0.55 {
			t.Errorf("Confidence = %v, want 0.55", got.Confidence)
		}
	})

	t.Run("caps at 0.95", func(t *testing.T) {
		pn := &plantnet.Candidate{ScientificName: "Acer rubrum", Genus: "Acer", Score: 0.94}
		in := Consensus(pn, &Guess{Scientific: "Acer rubrum", Genus: "Acer", Confidence: 0.94})
		got := ApplyGeographicBoost(in, local)
		if got.Confidence != 0.95 {
			t.Errorf("Confidence = %v, want 0.95", got.Confidence)
		}
	})

	t.Run("non-local species unchanged", func(t *testing.T) {
		in := Consensus(nil, &Guess{Scientific: "Ginkgo biloba", Genus: "Ginkgo", Confidence: 0.5})
		got := ApplyGeographicBoost(in, local)
		if got.Confidence != 0.5 {
			t.Errorf("Confidence = %v, want 0.5", got.Confidence)
		}
	})

	t.Run("nil passes through", func(t *testing.T) {
		if got := ApplyGeographicBoost(nil, local); got != nil {
			t.Errorf("ApplyGeographicBoost(nil) = %+v", got)
		}
	})
}
