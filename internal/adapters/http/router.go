package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/sales-tech-rag/internal/config"
	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
	"github.com/kirillkom/sales-tech-rag/internal/core/ports"
	"github.com/kirillkom/sales-tech-rag/internal/observability/metrics"
)

const (
	maxAskBodyBytes   = 64 << 10
	maxIndexBodyBytes = 32 << 20
	backpressureWait  = 250 * time.Millisecond
	healthCheckWait   = 2 * time.Second
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Router struct {
	cfg      config.Config
	answerer ports.QuestionAnswerer
	indexer  ports.DocumentIndexer
	metrics  *metrics.HTTPServerMetrics
	checks   map[string]HealthCheck
}

type RouterOption func(*Router)

func WithMetrics(m *metrics.HTTPServerMetrics) RouterOption {
	return func(rt *Router) {
		rt.metrics = m
	}
}

func WithHealthCheck(name string, check HealthCheck) RouterOption {
	return func(rt *Router) {
		if check != nil {
			rt.checks[name] = check
		}
	}
}

func NewRouter(
	cfg config.Config,
	answerer ports.QuestionAnswerer,
	indexer ports.DocumentIndexer,
	opts ...RouterOption,
) *Router {
	rt := &Router{
		cfg:      cfg,
		answerer: answerer,
		indexer:  indexer,
		checks:   make(map[string]HealthCheck),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/ask", rt.ask)
	api.HandleFunc("GET /v1/documents", rt.listDocuments)
	api.HandleFunc("POST /v1/documents/index", rt.indexDocument)
	api.HandleFunc("POST /v1/documents/index/async", rt.enqueueDocument)
	api.HandleFunc("POST /v1/documents/deactivate", rt.deactivateDocument)

	var onReject rejectFunc
	if rt.metrics != nil {
		onReject = rt.metrics.RecordRejected
	}
	var limited http.Handler = api
	limited = backpressureMiddleware(limited, rt.cfg.APIMaxInFlight, backpressureWait, onReject)
	limited = rateLimitMiddleware(limited, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, onReject)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		root.Handle("GET /metrics", rt.metrics.Handler())
	}
	root.Handle("/v1/", limited)

	var handler http.Handler = root
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckWait)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(rt.checks))
	for name, check := range rt.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	body := map[string]any{"status": "ok", "checks": results}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}

type askRequest struct {
	Question      string   `json:"question"`
	Type          string   `json:"type"`
	Mode          string   `json:"mode"`
	Version       string   `json:"version"`
	DocumentNames []string `json:"document_names"`
}

func (rt *Router) ask(w http.ResponseWriter, r *http.Request) {
	var body askRequest
	if !decodeJSON(w, r, maxAskBodyBytes, &body) {
		return
	}
	if strings.TrimSpace(body.Question) == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "question is required")
		return
	}
	queryType, err := domain.ParseQueryType(body.Type)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	mode, err := domain.ParseAnswerMode(body.Mode)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}

	resp, err := rt.answerer.Ask(r.Context(), domain.AskRequest{
		Question:      body.Question,
		QueryType:     queryType,
		Mode:          mode,
		Version:       body.Version,
		DocumentNames: body.DocumentNames,
	})
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) indexDocument(w http.ResponseWriter, r *http.Request) {
	var body domain.IndexRequest
	if !decodeJSON(w, r, maxIndexBodyBytes, &body) {
		return
	}
	doc, err := rt.indexer.Index(r.Context(), body)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (rt *Router) enqueueDocument(w http.ResponseWriter, r *http.Request) {
	var body domain.IndexRequest
	if !decodeJSON(w, r, maxIndexBodyBytes, &body) {
		return
	}
	if err := rt.indexer.Enqueue(r.Context(), body); err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":        "queued",
		"document_name": strings.TrimSpace(body.DocumentName),
		"version":       strings.TrimSpace(body.Version),
	})
}

type deactivateRequest struct {
	DocumentName string `json:"document_name"`
	Version      string `json:"version"`
}

func (rt *Router) deactivateDocument(w http.ResponseWriter, r *http.Request) {
	var body deactivateRequest
	if !decodeJSON(w, r, maxAskBodyBytes, &body) {
		return
	}
	if err := rt.indexer.Deactivate(r.Context(), body.DocumentName, body.Version); err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":        "deactivated",
		"document_name": strings.TrimSpace(body.DocumentName),
		"version":       strings.TrimSpace(body.Version),
	})
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	activeOnly := true
	if raw := r.URL.Query().Get("active"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "active must be a boolean")
			return
		}
		activeOnly = parsed
	}

	docs, err := rt.indexer.List(r.Context(), activeOnly)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	writeError(w, status, errorCode(err), err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, out any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid json")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
