package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProviderRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feedback_provider_request_duration_seconds",
		Help:    "Duration of AI provider requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "model", "operation"})

	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedback_provider_requests_total",
		Help: "The total number of AI provider requests",
	}, []string{"provider", "operation", "status"})

	StepsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedback_steps_total",
		Help: "The total number of executed feed steps",
	}, []string{"step_type", "status"})

	FeedsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedback_feeds_total",
		Help: "The total number of processed feeds",
	}, []string{"status"})

	ExistingContentHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedback_existing_content_hits_total",
		Help: "The total number of steps answered from previously computed content",
	}, []string{"step_type"})

	StepDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feedback_step_duration_seconds",
		Help:    "Duration in seconds of one feed step execution",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"step_type"})

	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feedback_stream_clients",
		Help: "Number of currently connected streaming clients",
	})

	TranscriptionSegments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedback_transcription_segments_total",
		Help: "The total number of audio segments considered for transcription",
	}, []string{"status"})
)
