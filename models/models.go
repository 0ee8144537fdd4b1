package models

import (
	"time"
)

// Photo role tags assigned by the capture client. Unknown roles are
// tolerated everywhere; they only lose their Pl@ntNet organ mapping.
const (
	RoleFullTreeAngle1 = "full_tree_angle1"
	RoleFullTreeAngle2 = "full_tree_angle2"
	RoleBarkCloseup    = "bark_closeup"
)

// Photo is a raw image plus its role tag. The pipeline never mutates the
// byte slice; transport encoding works on transient copies.
type Photo struct {
	Data []byte
	Role string
}

// Observation is a tree observation record as stored in the database.
type Observation struct {
	ID        string    `json:"id"`
	TreeID    string    `json:"tree_id,omitempty"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// SpeciesResult is the reconciled species identification.
type SpeciesResult struct {
	Common     string  `json:"common"`
	Scientific string  `json:"scientific"`
	Genus      string  `json:"genus"`
	Confidence float64 `json:"confidence"`
}

// HealthResult carries the two condition ratings on the six-tier scale,
// structured observation codes and any unmapped free-text notes.
type HealthResult struct {
	ConditionStructural string   `json:"conditionStructural"`
	ConditionLeaf       string   `json:"conditionLeaf"`
	Confidence          float64  `json:"confidence"`
	Observations        []string `json:"observations"`
	Notes               []string `json:"notes"`
}

// MeasurementResult stores metric values plus imperial conversions derived
// from them. Imperial fields are never estimated independently.
type MeasurementResult struct {
	DbhCm        float64  `json:"dbhCm"`
	DbhIn        float64  `json:"dbhIn"`
	HeightM      float64  `json:"heightM"`
	HeightFt     float64  `json:"heightFt"`
	CrownWidthM  *float64 `json:"crownWidthM"`
	CrownWidthFt *float64 `json:"crownWidthFt"`
	NumStems     int      `json:"numStems"`
}

// SiteResult covers the Level 1 inspection fields. Every field is optional;
// nil means the model gave no usable value and we never guess.
type SiteResult struct {
	ConditionRating         *string  `json:"conditionRating"`
	CrownDieback            *bool    `json:"crownDieback"`
	TrunkDefects            []string `json:"trunkDefects"`
	LocationType            *string  `json:"locationType"`
	SiteType                *string  `json:"siteType"`
	OverheadUtilityConflict *bool    `json:"overheadUtilityConflict"`
	MaintenanceFlag         *string  `json:"maintenanceFlag"`
	SidewalkDamage          *bool    `json:"sidewalkDamage"`
	MulchSoilCondition      *string  `json:"mulchSoilCondition"`
	RiskFlag                *bool    `json:"riskFlag"`
}

// AIResult is the composite analysis payload posted to the internal API.
// Each sub-object is null when its analyzer produced nothing usable.
type AIResult struct {
	Species      *SpeciesResult     `json:"species"`
	Health       *HealthResult      `json:"health"`
	Measurements *MeasurementResult `json:"measurements"`
	Site         *SiteResult        `json:"site"`
}

// Empty reports whether every analyzer came back empty-handed.
func (r *AIResult) Empty() bool {
	return r.Species == nil && r.Health == nil && r.Measurements == nil && r.Site == nil
}
