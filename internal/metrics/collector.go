// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector exposes the Prometheus counters/histograms for the
// dispatch core's observable outcomes, per SPEC_FULL §4.12: dispatch
// attempts by provider/kind/outcome, breaker state transitions, retry
// attempt counts, and streamed chunk counts.
type Collector struct {
	dispatchRequestsTotal   *prometheus.CounterVec
	dispatchRequestDuration *prometheus.HistogramVec
	breakerTransitionsTotal *prometheus.CounterVec
	retryAttempts           *prometheus.HistogramVec
	streamChunksTotal       *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers the dispatch-core metric families under
// namespace and returns a Collector ready to record observations.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.dispatchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_requests_total",
			Help:      "Total number of dispatch attempts by provider, request kind, and outcome",
		},
		[]string{"provider", "kind", "outcome"},
	)

	c.dispatchRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_request_duration_seconds",
			Help:      "Dispatch attempt duration in seconds, from guarded call entry to its terminal outcome",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "kind"},
	)

	c.breakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions by provider",
		},
		[]string{"provider", "from", "to"},
	)

	c.retryAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retry_attempts",
			Help:      "Number of attempts a dispatch call took before reaching a terminal outcome",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		},
		[]string{"provider"},
	)

	c.streamChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_chunks_total",
			Help:      "Total number of streamed chat chunks delivered by provider",
		},
		[]string{"provider"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordDispatch records one guarded dispatch attempt's outcome and
// latency. kind is "chat" or "stream_chat"; outcome is "success" or
// "failure".
func (c *Collector) RecordDispatch(provider, kind, outcome string, duration time.Duration) {
	c.dispatchRequestsTotal.WithLabelValues(provider, kind, outcome).Inc()
	c.dispatchRequestDuration.WithLabelValues(provider, kind).Observe(duration.Seconds())
}

// RecordBreakerTransition records a circuit breaker state change for
// provider, suitable as a breaker.Config.OnStateChange callback body.
func (c *Collector) RecordBreakerTransition(provider, from, to string) {
	c.breakerTransitionsTotal.WithLabelValues(provider, from, to).Inc()
}

// RecordRetryAttempts records how many attempts a dispatch call took
// before its terminal outcome (1 means it succeeded or failed on the
// first try, with no retry).
func (c *Collector) RecordRetryAttempts(provider string, attempts int) {
	c.retryAttempts.WithLabelValues(provider).Observe(float64(attempts))
}

// RecordStreamChunk records one delivered streaming chunk for provider.
func (c *Collector) RecordStreamChunk(provider string) {
	c.streamChunksTotal.WithLabelValues(provider).Inc()
}
