package metrics

import "github.com/prometheus/client_golang/prometheus"

// ResilienceMetrics counts retries and breaker transitions reported by
// resilience executors.
type ResilienceMetrics struct {
	service             string
	retryAttemptsTotal  *prometheus.CounterVec
	breakerChangesTotal *prometheus.CounterVec
}

func newResilienceMetrics(service string, registry *prometheus.Registry) *ResilienceMetrics {
	retryAttemptsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paa",
			Subsystem: "resilience",
			Name:      "retry_attempts_total",
			Help:      "Total retries performed by operation.",
		},
		[]string{"service", "operation"},
	)
	breakerChangesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paa",
			Subsystem: "resilience",
			Name:      "breaker_state_changes_total",
			Help:      "Total circuit breaker state transitions by target state.",
		},
		[]string{"service", "operation", "to"},
	)
	registry.MustRegister(retryAttemptsTotal, breakerChangesTotal)
	return &ResilienceMetrics{
		service:             service,
		retryAttemptsTotal:  retryAttemptsTotal,
		breakerChangesTotal: breakerChangesTotal,
	}
}

func (m *ResilienceMetrics) RetryAttempt(operation string) {
	m.retryAttemptsTotal.WithLabelValues(m.service, operation).Inc()
}

func (m *ResilienceMetrics) BreakerStateChange(operation, _, to string) {
	m.breakerChangesTotal.WithLabelValues(m.service, operation, to).Inc()
}
