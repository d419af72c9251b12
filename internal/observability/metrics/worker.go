package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	*ResilienceMetrics

	service  string
	registry *prometheus.Registry

	indexTotal    *prometheus.CounterVec
	indexDuration *prometheus.HistogramVec
	indexInFlight prometheus.Gauge
	indexedChunks prometheus.Histogram
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	indexTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paa",
			Subsystem: "worker",
			Name:      "index_total",
			Help:      "Total processed index requests by status.",
		},
		[]string{"service", "status"},
	)
	indexDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paa",
			Subsystem: "worker",
			Name:      "index_duration_seconds",
			Help:      "Index request duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	indexInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "paa",
			Subsystem: "worker",
			Name:      "index_in_flight",
			Help:      "Number of in-flight index requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	indexedChunks := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "paa",
			Subsystem: "worker",
			Name:      "index_chunks",
			Help:      "Chunks written per successful index request.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(indexTotal, indexDuration, indexInFlight, indexedChunks)

	return &WorkerMetrics{
		ResilienceMetrics: newResilienceMetrics(service, registry),
		service:           service,
		registry:          registry,
		indexTotal:        indexTotal,
		indexDuration:     indexDuration,
		indexInFlight:     indexInFlight,
		indexedChunks:     indexedChunks,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartIndex() {
	m.indexInFlight.Inc()
}

func (m *WorkerMetrics) FinishIndex(duration time.Duration, chunks int, err error) {
	m.indexInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	} else {
		m.indexedChunks.Observe(float64(chunks))
	}

	m.indexTotal.WithLabelValues(m.service, status).Inc()
	m.indexDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
}
