// Package service binds queue deliveries to pipeline runs and classifies
// job failures as permanent or transient.
package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"tree-analyze-pipeline/models"
	"tree-analyze-pipeline/rabbitmq"

	"github.com/google/uuid"
)

// ObservationStore is the database dependency of the job handler.
type ObservationStore interface {
	GetObservation(id string) (*models.Observation, error)
	GetObservationPhotos(observationID string) ([]models.Photo, error)
	SaveAnalysis(observationID string, result *models.AIResult) error
}

// Runner is the pipeline dependency of the job handler.
type Runner interface {
	Run(ctx context.Context, obs models.Observation, photos []models.Photo) (*models.AIResult, error)
}

// observationJob is the queue message published when an observation is
// created.
type observationJob struct {
	ObservationID string `json:"observationId"`
}

// Service processes observation jobs from the queue.
type Service struct {
	store      ObservationStore
	pipeline   Runner
	jobTimeout time.Duration
}

// NewService creates the job handling service.
func NewService(store ObservationStore, pipeline Runner, jobTimeout time.Duration) *Service {
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}
	return &Service{
		store:      store,
		pipeline:   pipeline,
		jobTimeout: jobTimeout,
	}
}

// HandleObservationJob processes one queue delivery. Malformed messages,
// unknown observations and photo-less observations are permanent
// failures; everything else is transient and eligible for retry.
func (s *Service) HandleObservationJob(msg *rabbitmq.Message) error {
	var job observationJob
	if err := msg.UnmarshalTo(&job); err != nil {
		return rabbitmq.Permanent(fmt.Errorf("malformed observation job: %w", err))
	}
	job.ObservationID = strings.TrimSpace(job.ObservationID)
	if _, err := uuid.Parse(job.ObservationID); err != nil {
		return rabbitmq.Permanent(fmt.Errorf("invalid observation id %q: %w", job.ObservationID, err))
	}

	log.Printf("service: processing observation=%s", job.ObservationID)

	obs, err := s.store.GetObservation(job.ObservationID)
	if err != nil {
		// A missing row never appears on retry; everything else might.
		if strings.Contains(err.Error(), "not found") {
			return rabbitmq.Permanent(err)
		}
		return fmt.Errorf("failed to load observation %s: %w", job.ObservationID, err)
	}

	photos, err := s.store.GetObservationPhotos(job.ObservationID)
	if err != nil {
		return fmt.Errorf("failed to load photos for observation %s: %w", job.ObservationID, err)
	}
	if len(photos) == 0 {
		return rabbitmq.Permanent(fmt.Errorf("observation %s has no photos", job.ObservationID))
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	result, err := s.pipeline.Run(ctx, *obs, photos)
	if err != nil {
		return fmt.Errorf("pipeline failed for observation %s: %w", job.ObservationID, err)
	}

	if err := s.store.SaveAnalysis(job.ObservationID, result); err != nil {
		// The result was already posted; losing the local row only
		// degrades the status API.
		log.Printf("service: failed to save analysis observation=%s err=%v", job.ObservationID, err)
	}

	log.Printf("service: observation done observation=%s", job.ObservationID)
	return nil
}
