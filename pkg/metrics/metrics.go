// Package metrics exposes Prometheus instrumentation for jobs, batches,
// webhook deliveries, cache tiers, and circuit breakers.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsSubmittedTotal counts accepted job submissions.
	JobsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcoder_jobs_submitted_total",
		Help: "Total number of job submissions accepted by the orchestrator.",
	})

	// JobsCompletedTotal counts terminal job outcomes by state.
	JobsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcoder_jobs_completed_total",
		Help: "Total number of jobs reaching a terminal state, labeled by outcome.",
	}, []string{"state"})

	// JobProcessingSeconds observes wall-clock job processing duration.
	JobProcessingSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "transcoder_job_processing_seconds",
		Help:    "Duration of the worker pipeline from start to finalize.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	})

	// BatchesActive tracks in-flight batches.
	BatchesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transcoder_batches_active",
		Help: "Number of batches currently not in a terminal state.",
	})

	// WebhookRequestsTotal counts webhook attempts by outcome.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcoder_webhook_requests_total",
		Help: "Total webhook delivery attempts, labeled by outcome.",
	}, []string{"outcome"}) // success | retry | abandoned | error

	// WebhookDeliverySeconds observes per-attempt HTTP round-trip duration.
	WebhookDeliverySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "transcoder_webhook_delivery_seconds",
		Help:    "Duration of a single webhook delivery attempt.",
		Buckets: prometheus.DefBuckets,
	})

	// CacheOpsTotal counts cache operations by tier and result.
	CacheOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcoder_cache_ops_total",
		Help: "Cache operations, labeled by tier and result.",
	}, []string{"tier", "result"}) // tier: remote|fallback; result: hit|miss|error|set|delete

	// BreakerStateGauge exposes the current circuit-breaker state per name.
	// 0=closed, 1=half_open, 2=open.
	BreakerStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "transcoder_circuit_breaker_state",
		Help: "Current circuit breaker state (0=closed, 1=half_open, 2=open).",
	}, []string{"name"})

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcoder_rate_limit_rejected_total",
		Help: "Requests rejected by the rate limiter, labeled by tier.",
	}, []string{"tier"})
)

// Timer measures elapsed wall-clock time for a single operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the duration since the timer started.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// ObserveJobProcessing records t.Elapsed() into the job processing histogram.
func (t *Timer) ObserveJobProcessing() {
	JobProcessingSeconds.Observe(t.Elapsed().Seconds())
}

// ObserveWebhookDelivery records t.Elapsed() into the webhook delivery histogram.
func (t *Timer) ObserveWebhookDelivery() {
	WebhookDeliverySeconds.Observe(t.Elapsed().Seconds())
}

// RecordJobCompletion increments the completed-jobs counter for state.
func RecordJobCompletion(state string) {
	JobsCompletedTotal.WithLabelValues(state).Inc()
}

// RecordWebhookOutcome increments the webhook attempt counter for outcome.
func RecordWebhookOutcome(outcome string) {
	WebhookRequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordCacheOp increments the cache operation counter for tier/result.
func RecordCacheOp(tier, result string) {
	CacheOpsTotal.WithLabelValues(tier, result).Inc()
}

// breakerStateValue maps a breaker state name onto the gauge's numeric scale.
func breakerStateValue(state string) float64 {
	switch state {
	case "half_open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// RecordBreakerState sets the gauge for a named breaker.
func RecordBreakerState(name, state string) {
	BreakerStateGauge.WithLabelValues(name).Set(breakerStateValue(state))
}
