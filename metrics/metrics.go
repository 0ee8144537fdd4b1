// Package metrics defines the Prometheus collectors for the service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "treeinventory"
	subsystem = "aipipeline"
)

var (
	// Queue health.
	RabbitMQConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "rabbitmq_connected",
		Help:      "1 if the RabbitMQ subscriber is connected, 0 otherwise.",
	})
	RabbitMQLastConnectSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "rabbitmq_last_connect_timestamp_seconds",
		Help:      "Unix timestamp of the last successful RabbitMQ (re)connect.",
	})
	RabbitMQLastDeliverySeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "rabbitmq_last_delivery_timestamp_seconds",
		Help:      "Unix timestamp of the last observed delivery.",
	})

	// Job processing.
	WorkerInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "worker_in_flight",
		Help:      "Number of observation jobs currently being processed.",
	})
	ProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "processed_total",
		Help:      "Observation jobs processed, by outcome.",
	}, []string{"outcome"})
	ProcessingDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "processing_duration_seconds",
		Help:      "Observation job processing duration, by outcome.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"outcome"})

	// Ack/nack bookkeeping.
	AckErrorTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "ack_error_total",
		Help:      "Failed message acks.",
	})
	NackErrorTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "nack_error_total",
		Help:      "Failed message nacks.",
	})
	RetryPublishErrorTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "retry_publish_error_total",
		Help:      "Failed publishes to the retry exchange.",
	})

	// External provider calls.
	ProviderRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "provider_requests_total",
		Help:      "HTTP requests to external analysis providers, by outcome.",
	}, []string{"provider", "outcome"})

	// Analysis outcomes.
	AnalyzerOutcomeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "analyzer_outcome_total",
		Help:      "Per-analyzer outcomes (success or empty).",
	}, []string{"analyzer", "outcome"})
	QualityPhotosTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "quality_photos_total",
		Help:      "Photos through the quality gate, by verdict.",
	}, []string{"verdict"})
)

var registerOnce sync.Once

// Register registers all collectors with the default registry. Safe to
// call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RabbitMQConnected,
			RabbitMQLastConnectSeconds,
			RabbitMQLastDeliverySeconds,
			WorkerInFlight,
			ProcessedTotal,
			ProcessingDurationSeconds,
			AckErrorTotal,
			NackErrorTotal,
			RetryPublishErrorTotal,
			ProviderRequestsTotal,
			AnalyzerOutcomeTotal,
			QualityPhotosTotal,
		)
	})
}
