package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"tree-analyze-pipeline/config"
	"tree-analyze-pipeline/models"

	_ "github.com/go-sql-driver/mysql"
)

// Database represents the database connection
type Database struct {
	db *sql.DB
}

// StoredAnalysis is one persisted analysis row for the status API.
type StoredAnalysis struct {
	ObservationID string    `json:"observation_id"`
	Result        []byte    `json:"result"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewDatabase creates a new database connection
func NewDatabase(cfg *config.Config) (*Database, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection with exponential backoff retry
	var waitInterval time.Duration = 1 * time.Second
	for {
		if err := db.Ping(); err == nil {
			break // Connection successful
		}
		log.Printf("Database connection failed, retrying in %v: %v", waitInterval, err)
		time.Sleep(waitInterval)
		waitInterval *= 2 // Exponential backoff: 1s, 2s, 4s, 8s, ...
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// CreateAnalysisTable creates the observation_analysis table if it doesn't exist
func (d *Database) CreateAnalysisTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS observation_analysis (
		observation_id VARCHAR(36) NOT NULL,
		species_json JSON,
		health_json JSON,
		measurements_json JSON,
		site_json JSON,
		result_json JSON NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (observation_id)
	)`

	if _, err := d.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create observation_analysis table: %w", err)
	}
	return nil
}

// GetObservation fetches one observation record.
func (d *Database) GetObservation(id string) (*models.Observation, error) {
	query := `
		SELECT id, COALESCE(tree_id, ''), latitude, longitude, status, created_at
		FROM observations
		WHERE id = ?`

	var obs models.Observation
	err := d.db.QueryRow(query, id).Scan(
		&obs.ID, &obs.TreeID, &obs.Latitude, &obs.Longitude, &obs.Status, &obs.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("observation %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query observation %s: %w", id, err)
	}
	return &obs, nil
}

// GetObservationPhotos fetches the photos for an observation, capture
// order preserved.
func (d *Database) GetObservationPhotos(observationID string) ([]models.Photo, error) {
	query := `
		SELECT role, image
		FROM observation_photos
		WHERE observation_id = ?
		ORDER BY seq ASC`

	rows, err := d.db.Query(query, observationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query photos for observation %s: %w", observationID, err)
	}
	defer rows.Close()

	var photos []models.Photo
	for rows.Next() {
		var p models.Photo
		if err := rows.Scan(&p.Role, &p.Data); err != nil {
			return nil, fmt.Errorf("failed to scan photo row: %w", err)
		}
		photos = append(photos, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate photo rows: %w", err)
	}
	return photos, nil
}

// SaveAnalysis upserts the analysis row for an observation.
func (d *Database) SaveAnalysis(observationID string, result *models.AIResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	// Nil sections stay NULL so stats can count per-analyzer completion.
	var speciesJSON, healthJSON, measurementsJSON, siteJSON []byte
	if result.Species != nil {
		if speciesJSON, err = json.Marshal(result.Species); err != nil {
			return fmt.Errorf("failed to marshal species: %w", err)
		}
	}
	if result.Health != nil {
		if healthJSON, err = json.Marshal(result.Health); err != nil {
			return fmt.Errorf("failed to marshal health: %w", err)
		}
	}
	if result.Measurements != nil {
		if measurementsJSON, err = json.Marshal(result.Measurements); err != nil {
			return fmt.Errorf("failed to marshal measurements: %w", err)
		}
	}
	if result.Site != nil {
		if siteJSON, err = json.Marshal(result.Site); err != nil {
			return fmt.Errorf("failed to marshal site: %w", err)
		}
	}

	query := `
		INSERT INTO observation_analysis
			(observation_id, species_json, health_json, measurements_json, site_json, result_json)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			species_json = VALUES(species_json),
			health_json = VALUES(health_json),
			measurements_json = VALUES(measurements_json),
			site_json = VALUES(site_json),
			result_json = VALUES(result_json)`

	if _, err := d.db.Exec(query, observationID, speciesJSON, healthJSON, measurementsJSON, siteJSON, resultJSON); err != nil {
		return fmt.Errorf("failed to save analysis for observation %s: %w", observationID, err)
	}
	return nil
}

// GetAnalysis fetches the stored analysis row for an observation.
func (d *Database) GetAnalysis(observationID string) (*StoredAnalysis, error) {
	query := `
		SELECT observation_id, result_json, created_at
		FROM observation_analysis
		WHERE observation_id = ?`

	var a StoredAnalysis
	err := d.db.QueryRow(query, observationID).Scan(&a.ObservationID, &a.Result, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query analysis for observation %s: %w", observationID, err)
	}
	return &a, nil
}

// GetLastProcessedAt returns the timestamp of the most recent analysis,
// zero time when none exist.
func (d *Database) GetLastProcessedAt() (time.Time, error) {
	var ts sql.NullTime
	err := d.db.QueryRow(`SELECT MAX(created_at) FROM observation_analysis`).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query last processed timestamp: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return ts.Time, nil
}

// GetAnalysisStats returns per-section completion counts for the stats
// endpoint.
func (d *Database) GetAnalysisStats() (map[string]int, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(species_json),
			COUNT(health_json),
			COUNT(measurements_json),
			COUNT(site_json)
		FROM observation_analysis`

	var total, species, health, measurements, site int
	if err := d.db.QueryRow(query).Scan(&total, &species, &health, &measurements, &site); err != nil {
		return nil, fmt.Errorf("failed to query analysis stats: %w", err)
	}
	return map[string]int{
		"total":        total,
		"species":      species,
		"health":       health,
		"measurements": measurements,
		"site":         site,
	}, nil
}
