package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the tree analyze pipeline service.
// Components receive this value at construction; nothing reads the
// environment after Load returns.
type Config struct {
	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Server configuration
	Port string

	// LLM provider configuration
	LLMProvider     string
	LLMModel        string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string
	LLMTimeout      time.Duration

	// Pl@ntNet configuration
	PlantNetAPIKey  string
	PlantNetTimeout time.Duration

	// Internal result API
	InternalAPIKey string
	APIBaseURL     string

	// Species common to the service area; used for the geographic
	// confidence boost. Scientific names, comma-separated in env.
	LocalCommonSpecies []string

	// RabbitMQ configuration
	RabbitMQ RabbitMQConfig

	// Logging
	LogLevel string
}

// RabbitMQConfig holds the job queue connection settings.
type RabbitMQConfig struct {
	Host                  string
	Port                  string
	User                  string
	Password              string
	Exchange              string
	Queue                 string
	ObservationRoutingKey string
	PrefetchCount         int
}

// GetAMQPURL builds the AMQP connection URL.
func (c *RabbitMQConfig) GetAMQPURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", c.User, c.Password, c.Host, c.Port)
}

// Load loads configuration from environment variables. A .env file in the
// working directory is honored when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		// Database defaults
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "server"),
		DBPassword: getEnv("DB_PASSWORD", "secret_app"),
		DBName:     getEnv("DB_NAME", "treeinventory"),

		// Server defaults
		Port: getEnv("PORT", "8080"),

		// LLM defaults
		LLMProvider:     getEnv("LLM_PROVIDER", "anthropic"),
		LLMModel:        getEnv("LLM_MODEL", "claude-sonnet-4-5-20250929"),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		GoogleAPIKey:    getEnv("GOOGLE_API_KEY", ""),
		LLMTimeout:      getDurationEnv("LLM_TIMEOUT", 60*time.Second),

		// Pl@ntNet defaults
		PlantNetAPIKey:  getEnv("PLANTNET_API_KEY", ""),
		PlantNetTimeout: getDurationEnv("PLANTNET_TIMEOUT", 30*time.Second),

		// Internal API defaults
		InternalAPIKey: getEnv("INTERNAL_API_KEY", ""),
		APIBaseURL:     getEnv("API_BASE_URL", "http://localhost:3000"),

		LocalCommonSpecies: getStringSliceEnv("LOCAL_COMMON_SPECIES", ""),

		RabbitMQ: RabbitMQConfig{
			Host:                  getEnv("RABBITMQ_HOST", "localhost"),
			Port:                  getEnv("RABBITMQ_PORT", "5672"),
			User:                  getEnv("RABBITMQ_USER", "guest"),
			Password:              getEnv("RABBITMQ_PASSWORD", "guest"),
			Exchange:              getEnv("RABBITMQ_EXCHANGE", "treeinventory"),
			Queue:                 getEnv("RABBITMQ_QUEUE", "ai-process-observation"),
			ObservationRoutingKey: getEnv("RABBITMQ_OBSERVATION_ROUTING_KEY", "observation.created"),
			PrefetchCount:         getIntEnv("RABBITMQ_PREFETCH", 4),
		},

		// Logging defaults
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// getStringSliceEnv gets a comma-separated environment variable as a slice.
func getStringSliceEnv(key, defaultValue string) []string {
	value := getEnv(key, defaultValue)
	if value == "" {
		return []string{}
	}

	parts := strings.Split(value, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv gets a duration environment variable or returns a default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable or returns a default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
