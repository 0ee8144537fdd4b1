package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tree-analyze-pipeline/analyzer"
	"tree-analyze-pipeline/config"
	"tree-analyze-pipeline/database"
	"tree-analyze-pipeline/handlers"
	"tree-analyze-pipeline/llm"
	"tree-analyze-pipeline/metrics"
	"tree-analyze-pipeline/pipeline"
	"tree-analyze-pipeline/plantnet"
	"tree-analyze-pipeline/rabbitmq"
	"tree-analyze-pipeline/service"
	"tree-analyze-pipeline/stubllm"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Validate required configuration for the selected provider
	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			log.Fatal("ANTHROPIC_API_KEY environment variable is required")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			log.Fatal("OPENAI_API_KEY environment variable is required")
		}
	case "google":
		if cfg.GoogleAPIKey == "" {
			log.Fatal("GOOGLE_API_KEY environment variable is required")
		}
	case "stub":
		log.Printf("Using stub LLM client; no provider calls will be made")
	default:
		log.Fatalf("Unknown LLM_PROVIDER %q (want anthropic, openai, google or stub)", cfg.LLMProvider)
	}
	if cfg.InternalAPIKey == "" {
		log.Fatal("INTERNAL_API_KEY environment variable is required")
	}
	if cfg.PlantNetAPIKey == "" {
		log.Printf("PLANTNET_API_KEY not set; species identification will run on the model alone")
	}

	// Initialize database
	db, err := database.NewDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if err := db.CreateAnalysisTable(); err != nil {
		log.Fatalf("Failed to create analysis table: %v", err)
	}

	// Register Prometheus collectors
	metrics.Register()

	// Build the analysis pipeline
	var queryClient analyzer.QueryClient
	if cfg.LLMProvider == "stub" {
		queryClient = stubllm.NewClient()
	} else {
		queryClient = llm.NewClient(cfg)
	}
	pnClient := plantnet.NewClient(cfg)

	pipe := pipeline.New(
		analyzer.NewSpecies(queryClient, pnClient, cfg),
		analyzer.NewHealth(queryClient),
		analyzer.NewMeasurements(queryClient),
		analyzer.NewSite(queryClient),
		pipeline.NewPoster(cfg),
	)

	// Job timeout covers all analyzer calls including their retries.
	jobTimeout := 4 * (cfg.LLMTimeout + cfg.PlantNetTimeout)
	svc := service.NewService(db, pipe, jobTimeout)

	// Connect the queue subscriber
	subscriber, err := rabbitmq.NewSubscriber(
		cfg.RabbitMQ.GetAMQPURL(),
		cfg.RabbitMQ.Exchange,
		cfg.RabbitMQ.Queue,
		cfg.RabbitMQ.PrefetchCount,
	)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer subscriber.Close()

	if err := subscriber.Start(map[string]rabbitmq.CallbackFunc{
		cfg.RabbitMQ.ObservationRoutingKey: svc.HandleObservationJob,
	}); err != nil {
		log.Fatalf("Failed to start subscriber: %v", err)
	}

	// Initialize handlers
	h := handlers.NewHandlers(db, subscriber)

	// Setup HTTP server
	router := gin.Default()

	api := router.Group("/api/v1")
	{
		api.GET("/health", h.HealthCheck)
		api.GET("/status", h.GetStatus)
		api.GET("/analysis/:id", h.GetResultByObservation)
		api.GET("/stats", h.GetStats)
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start HTTP server in a goroutine
	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}
