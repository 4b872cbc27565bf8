package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors exported by the service.
type Metrics struct {
	GenerationAttempts *prometheus.CounterVec
	GenerationRetries  *prometheus.CounterVec
	GenerationFallback prometheus.Counter
	StageFailures      prometheus.Counter
	JobSubmissions     *prometheus.CounterVec
	JobPolls           prometheus.Counter
	PipelineDuration   prometheus.Histogram
}

// NewMetrics registers and returns the service metrics on the given registry.
// Pass prometheus.NewRegistry() in tests to avoid global registration clashes.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		GenerationAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "studio_generation_attempts_total",
			Help: "Upstream generation calls attempted, by backend and outcome.",
		}, []string{"backend", "outcome"}),
		GenerationRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "studio_generation_retries_total",
			Help: "Retries issued after transient upstream faults, by backend.",
		}, []string{"backend"}),
		GenerationFallback: factory.NewCounter(prometheus.CounterOpts{
			Name: "studio_generation_fallback_total",
			Help: "Generation calls rerouted to the fallback backend.",
		}),
		StageFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "studio_pipeline_stage_failures_total",
			Help: "Pipeline stages recorded as failed.",
		}),
		JobSubmissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "studio_job_submissions_total",
			Help: "Async job submissions, by kind and mode (real or mock).",
		}, []string{"kind", "mode"}),
		JobPolls: factory.NewCounter(prometheus.CounterOpts{
			Name: "studio_job_polls_total",
			Help: "Status polls handled for async jobs.",
		}),
		PipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "studio_pipeline_duration_seconds",
			Help:    "Wall time of full pipeline runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}
