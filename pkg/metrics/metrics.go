// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// TurnsTotal tracks conversational turns by outcome (paused, completed, errored, rejected).
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prompt_turns_total",
			Help: "Total conversational turns by outcome",
		},
		[]string{"outcome"},
	)

	// AnswerCacheTotal tracks similarity cache lookups.
	AnswerCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answer_cache_lookups_total",
			Help: "Similarity cache lookups by result",
		},
		[]string{"result"},
	)

	// GenerationDuration tracks generation call duration.
	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_generation_duration_seconds",
			Help:    "LLM generation duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// ProviderErrorsTotal tracks collaborator failures.
	ProviderErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_errors_total",
			Help: "Collaborator call failures by operation and kind",
		},
		[]string{"op", "kind"},
	)

	// SessionsActive tracks live conversation sessions.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conversation_sessions_active",
			Help: "Number of live conversation sessions",
		},
	)

	// SideEffectFailuresTotal tracks failed dispatch and persistence writes.
	SideEffectFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "side_effect_failures_total",
			Help: "Failed dispatch or persistence side effects",
		},
		[]string{"effect"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordGeneration records metrics for a completed generation call.
func RecordGeneration(model, status string, duration float64, tokensIn, tokensOut int) {
	GenerationDuration.WithLabelValues(model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		AnswerCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	AnswerCacheTotal.WithLabelValues("miss").Inc()
}

// RecordProviderError records a failed collaborator call.
func RecordProviderError(op, kind string) {
	ProviderErrorsTotal.WithLabelValues(op, kind).Inc()
}

// RecordTurn records the outcome of a conversational turn.
func RecordTurn(outcome string) {
	TurnsTotal.WithLabelValues(outcome).Inc()
}
