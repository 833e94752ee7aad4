package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "badgewise"

var (
	generationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "generation_outcomes_total",
		Help:      "Recommendation results by outcome (generated or fallback) and reason",
	}, []string{"outcome", "reason"})

	generationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "generation_attempts_total",
		Help:      "Generation model calls by result",
	}, []string{"result"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Recommendation cache lookups by cache name and result (hit, miss, shared, stale)",
	}, []string{"cache", "result"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Duration of recommendation pipeline stages",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})

	indexOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "index_operations_total",
		Help:      "Vector index operations by backend, operation and result",
	}, []string{"backend", "op", "result"})
)

// GenerationOutcome counts a finished generation
func GenerationOutcome(outcome, reason string) {
	generationOutcomes.WithLabelValues(outcome, reason).Inc()
}

// GenerationAttempt counts a single generation model call
func GenerationAttempt(result string) {
	generationAttempts.WithLabelValues(result).Inc()
}

// CacheLookup counts a cache lookup
func CacheLookup(cache, result string) {
	cacheLookups.WithLabelValues(cache, result).Inc()
}

// ObserveStage records how long a pipeline stage took since start
func ObserveStage(stage string, start time.Time) {
	stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// IndexOperation counts a vector index operation. err decides the result label.
func IndexOperation(backend, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	indexOperations.WithLabelValues(backend, op, result).Inc()
}
