// Package metrics defines the prometheus collectors exported to the
// monitoring collaborator. Collectors are registered via promauto at
// package init; the /metrics endpoint is mounted by the intake gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AI provider metrics
var (
	ProviderAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memoryreel_ai_provider_attempts_total",
			Help: "Total number of analysis calls attempted against each provider",
		},
		[]string{"provider", "operation"},
	)

	ProviderSuccessTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memoryreel_ai_provider_success_total",
			Help: "Total number of qualifying successful analysis calls per provider",
		},
		[]string{"provider", "operation"},
	)

	ProviderErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memoryreel_ai_provider_errors_total",
			Help: "Total number of failed, timed out or below-threshold analysis calls per provider",
		},
		[]string{"provider", "operation", "reason"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memoryreel_ai_provider_latency_seconds",
			Help:    "Analysis call latency per provider",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "operation"},
	)
)

// Transcoder metrics
var (
	TranscodeQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "memoryreel_transcode_queue_depth",
			Help: "Number of transcode submissions currently admitted",
		},
	)

	TranscodeRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memoryreel_transcode_rejected_total",
			Help: "Total number of transcode submissions rejected because the admission queue was full",
		},
	)

	TranscodeBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "memoryreel_transcode_breaker_state",
			Help: "Circuit breaker state of the conversion backend (0=closed, 1=half-open, 2=open)",
		},
	)

	TranscodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memoryreel_transcode_duration_seconds",
			Help:    "Duration of rendition conversions by preset",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"preset"},
	)
)

// Resource metrics
var (
	MemoryUsageBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "memoryreel_process_memory_bytes",
			Help: "Resident memory of the pipeline process as sampled by the memory monitor",
		},
	)

	MemoryPressure = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "memoryreel_memory_pressure",
			Help: "1 when process memory is above the configured high-water mark",
		},
	)
)

// Pipeline metrics
var (
	PipelineItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memoryreel_pipeline_items_total",
			Help: "Total number of content items finishing processing, by terminal stage",
		},
		[]string{"stage"},
	)

	PipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memoryreel_pipeline_stage_duration_seconds",
			Help:    "Time spent inside each pipeline stage",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"stage"},
	)

	PipelineRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memoryreel_pipeline_retries_total",
			Help: "Total number of stage retries performed by the orchestrator",
		},
	)
)
