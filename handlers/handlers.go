package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"tree-analyze-pipeline/database"

	"github.com/gin-gonic/gin"
)

// QueueStatus exposes subscriber health to the status endpoint.
type QueueStatus interface {
	IsConnected() bool
	LastConnectAt() time.Time
	LastDeliveryAt() time.Time
	LastError() string
	GetQueue() string
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	db    *database.Database
	queue QueueStatus
}

// NewHandlers creates the HTTP handlers.
func NewHandlers(db *database.Database, queue QueueStatus) *Handlers {
	return &Handlers{db: db, queue: queue}
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// GetStatus handles GET /status
func (h *Handlers) GetStatus(c *gin.Context) {
	lastProcessed, err := h.db.GetLastProcessedAt()
	if err != nil {
		log.Printf("handlers: failed to get last processed timestamp: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get status"})
		return
	}

	status := gin.H{
		"queue": gin.H{
			"name":      h.queue.GetQueue(),
			"connected": h.queue.IsConnected(),
		},
	}
	if t := h.queue.LastConnectAt(); !t.IsZero() {
		status["queue"].(gin.H)["last_connect"] = t.UTC().Format(time.RFC3339)
	}
	if t := h.queue.LastDeliveryAt(); !t.IsZero() {
		status["queue"].(gin.H)["last_delivery"] = t.UTC().Format(time.RFC3339)
	}
	if e := h.queue.LastError(); e != "" {
		status["queue"].(gin.H)["last_error"] = e
	}
	if !lastProcessed.IsZero() {
		status["last_processed"] = lastProcessed.UTC().Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, status)
}

// GetResultByObservation handles GET /analysis/:id
func (h *Handlers) GetResultByObservation(c *gin.Context) {
	id := c.Param("id")

	analysis, err := h.db.GetAnalysis(id)
	if err != nil {
		log.Printf("handlers: failed to get analysis observation=%s err=%v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get analysis"})
		return
	}
	if analysis == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no analysis for observation"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"observation_id": analysis.ObservationID,
		"result":         json.RawMessage(analysis.Result),
		"created_at":     analysis.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// GetStats handles GET /stats
func (h *Handlers) GetStats(c *gin.Context) {
	stats, err := h.db.GetAnalysisStats()
	if err != nil {
		log.Printf("handlers: failed to get stats: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
