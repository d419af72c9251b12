package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
)

// knownPaths bounds the path label; anything else is reported as "other".
var knownPaths = map[string]struct{}{
	"/v1/ask":                   {},
	"/v1/documents":             {},
	"/v1/documents/index":       {},
	"/v1/documents/index/async": {},
	"/v1/documents/deactivate":  {},
	"/healthz":                  {},
	"/metrics":                  {},
}

type HTTPServerMetrics struct {
	*ResilienceMetrics

	service  string
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge
	rejectedTotal   *prometheus.CounterVec

	ragAnswersTotal    *prometheus.CounterVec
	ragRefusalsTotal   *prometheus.CounterVec
	ragExtractiveTotal *prometheus.CounterVec
	llmTokensTotal     *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paa",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paa",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "paa",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	rejectedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paa",
			Subsystem: "http",
			Name:      "rejected_total",
			Help:      "Requests rejected by traffic control, by reason.",
		},
		[]string{"service", "reason"},
	)
	ragAnswersTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paa",
			Subsystem: "rag",
			Name:      "answers_total",
			Help:      "Total ask requests by outcome.",
		},
		[]string{"service", "outcome"},
	)
	ragRefusalsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paa",
			Subsystem: "rag",
			Name:      "refusals_total",
			Help:      "Total ask requests answered with the refusal text.",
		},
		[]string{"service"},
	)
	ragExtractiveTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paa",
			Subsystem: "rag",
			Name:      "extractive_total",
			Help:      "Total answers built from retrieved passages after a generation failure.",
		},
		[]string{"service"},
	)
	llmTokensTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paa",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Token usage by direction.",
		},
		[]string{"service", "direction"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		rejectedTotal,
		ragAnswersTotal,
		ragRefusalsTotal,
		ragExtractiveTotal,
		llmTokensTotal,
	)

	return &HTTPServerMetrics{
		ResilienceMetrics:  newResilienceMetrics(service, registry),
		service:            service,
		registry:           registry,
		requestTotal:       requestTotal,
		requestDuration:    requestDuration,
		requestInFlight:    requestInFlight,
		rejectedTotal:      rejectedTotal,
		ragAnswersTotal:    ragAnswersTotal,
		ragRefusalsTotal:   ragRefusalsTotal,
		ragExtractiveTotal: ragExtractiveTotal,
		llmTokensTotal:     llmTokensTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			m.service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	if _, ok := knownPaths[path]; ok {
		return path
	}
	return "other"
}

func (m *HTTPServerMetrics) RecordRejected(reason string) {
	m.rejectedTotal.WithLabelValues(m.service, reason).Inc()
}

// RecordAnswer implements the ask use case's answer recorder.
func (m *HTTPServerMetrics) RecordAnswer(outcome string, extractive bool, usage domain.TokenUsage) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.ragAnswersTotal.WithLabelValues(m.service, outcome).Inc()
	if outcome == "refused" {
		m.ragRefusalsTotal.WithLabelValues(m.service).Inc()
	}
	if extractive {
		m.ragExtractiveTotal.WithLabelValues(m.service).Inc()
	}
	if usage.InputTokens > 0 {
		m.llmTokensTotal.WithLabelValues(m.service, "in").Add(float64(usage.InputTokens))
	}
	if usage.OutputTokens > 0 {
		m.llmTokensTotal.WithLabelValues(m.service, "out").Add(float64(usage.OutputTokens))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
