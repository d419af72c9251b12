package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/sales-tech-rag/internal/config"
	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
	"github.com/kirillkom/sales-tech-rag/internal/observability/metrics"
)

type answererFake struct {
	resp *domain.AnswerResponse
	err  error
	last domain.AskRequest
}

func (f *answererFake) Ask(_ context.Context, req domain.AskRequest) (*domain.AnswerResponse, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &domain.AnswerResponse{Answer: "ok", Sources: []domain.Source{}, UsedDocuments: []string{}}, nil
}

type indexerFake struct {
	err         error
	indexed     []domain.IndexRequest
	enqueued    []domain.IndexRequest
	deactivated []string
	activeOnly  *bool
}

func (f *indexerFake) Index(_ context.Context, req domain.IndexRequest) (*domain.IndexedDocument, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.indexed = append(f.indexed, req)
	return &domain.IndexedDocument{DocumentName: req.DocumentName, Version: req.Version, ChunksIndexed: 2, Active: true}, nil
}

func (f *indexerFake) Enqueue(_ context.Context, req domain.IndexRequest) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, req)
	return nil
}

func (f *indexerFake) Deactivate(_ context.Context, documentName, version string) error {
	if f.err != nil {
		return f.err
	}
	f.deactivated = append(f.deactivated, documentName+"@"+version)
	return nil
}

func (f *indexerFake) List(_ context.Context, activeOnly bool) ([]domain.IndexedDocument, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.activeOnly = &activeOnly
	return []domain.IndexedDocument{{DocumentName: "price.pdf", Version: "v1", Active: true}}, nil
}

func newTestHandler(cfg config.Config, answerer *answererFake, indexer *indexerFake, opts ...RouterOption) http.Handler {
	return NewRouter(cfg, answerer, indexer, opts...).Handler()
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestAskPassesParsedRequest(t *testing.T) {
	answerer := &answererFake{}
	handler := newTestHandler(config.Config{}, answerer, &indexerFake{})

	res := postJSON(t, handler, "/v1/ask", map[string]any{
		"question":       "Сколько стоит тариф?",
		"type":           "technical",
		"mode":           "deep",
		"version":        "v2",
		"document_names": []string{"price.pdf"},
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if answerer.last.QueryType != domain.QueryTypeTechnical || answerer.last.Mode != domain.AnswerModeDeep {
		t.Fatalf("unexpected parsed request: %+v", answerer.last)
	}
	if answerer.last.Version != "v2" || len(answerer.last.DocumentNames) != 1 {
		t.Fatalf("unexpected filter: %+v", answerer.last)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatal("expected request id header")
	}
}

func TestAskRejectsInvalidInput(t *testing.T) {
	handler := newTestHandler(config.Config{}, &answererFake{}, &indexerFake{})

	cases := []map[string]any{
		{"question": "   "},
		{"question": "q", "mode": "verbose"},
		{"question": "q", "type": "legal"},
	}
	for _, payload := range cases {
		res := postJSON(t, handler, "/v1/ask", payload)
		if res.Code != http.StatusBadRequest {
			t.Fatalf("payload %v: expected 400, got %d", payload, res.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader("{"))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed json, got %d", res.Code)
	}
}

func TestAskMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{domain.WrapError(domain.ErrBackendUnavailable, "search", errors.New("down")), http.StatusServiceUnavailable, "backend_unavailable"},
		{domain.WrapError(domain.ErrResourceExhausted, "embed", errors.New("oom")), http.StatusServiceUnavailable, "resource_exhausted"},
		{domain.WrapError(domain.ErrCitationIntegrity, "ask", errors.New("mismatch")), http.StatusInternalServerError, "citation_integrity"},
		{domain.WrapError(domain.ErrRetrieval, "retrieve", errors.New("boom")), http.StatusInternalServerError, "retrieval_failed"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "internal"},
	}
	for _, tc := range cases {
		handler := newTestHandler(config.Config{}, &answererFake{err: tc.err}, &indexerFake{})
		res := postJSON(t, handler, "/v1/ask", map[string]any{"question": "q"})
		if res.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, res.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode error body: %v", err)
		}
		if body["code"] != tc.code {
			t.Fatalf("%v: expected code %q, got %q", tc.err, tc.code, body["code"])
		}
	}
}

func TestAskMethodNotAllowed(t *testing.T) {
	handler := newTestHandler(config.Config{}, &answererFake{}, &indexerFake{})
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/ask", nil))
	if res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}
}

func TestIndexEndpoints(t *testing.T) {
	indexer := &indexerFake{}
	handler := newTestHandler(config.Config{}, &answererFake{}, indexer)
	payload := map[string]any{
		"document_name": "price.pdf",
		"version":       "v1",
		"elements":      []map[string]any{{"text": "Тариф Бизнес стоит 100 рублей", "page_number": 2}},
	}

	res := postJSON(t, handler, "/v1/documents/index", payload)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	if len(indexer.indexed) != 1 || *indexer.indexed[0].Elements[0].PageNumber != 2 {
		t.Fatalf("unexpected indexed request: %+v", indexer.indexed)
	}

	res = postJSON(t, handler, "/v1/documents/index/async", payload)
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", res.Code)
	}
	if len(indexer.enqueued) != 1 {
		t.Fatalf("expected 1 enqueued request, got %d", len(indexer.enqueued))
	}

	res = postJSON(t, handler, "/v1/documents/deactivate", map[string]string{"document_name": "price.pdf", "version": "v1"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if len(indexer.deactivated) != 1 || indexer.deactivated[0] != "price.pdf@v1" {
		t.Fatalf("unexpected deactivations: %v", indexer.deactivated)
	}
}

func TestListDocumentsParsesActiveFlag(t *testing.T) {
	indexer := &indexerFake{}
	handler := newTestHandler(config.Config{}, &answererFake{}, indexer)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/documents?active=false", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if indexer.activeOnly == nil || *indexer.activeOnly {
		t.Fatalf("expected activeOnly=false, got %v", indexer.activeOnly)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/documents?active=maybe", nil))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestEnqueueOversizedDocumentMapsTo413(t *testing.T) {
	indexer := &indexerFake{err: domain.WrapError(domain.ErrInvalidInput, "nats publish",
		domain.WrapError(domain.ErrPayloadTooLarge, "index request", errors.New("2097152 bytes exceeds server max payload 1048576")))}
	handler := newTestHandler(config.Config{}, &answererFake{}, indexer)

	rec := postJSON(t, handler, "/v1/documents/index/async", map[string]any{
		"document_name": "price.pdf",
		"version":       "v1",
		"elements":      []map[string]any{{"text": "Тариф стоит 100"}},
	})
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["code"] != "payload_too_large" {
		t.Fatalf("expected payload_too_large code, got %v", body)
	}
}

func TestQueueDisabledMapsTo503(t *testing.T) {
	indexer := &indexerFake{err: domain.WrapError(domain.ErrBackendUnavailable, "enqueue", errors.New("queue disabled"))}
	handler := newTestHandler(config.Config{}, &answererFake{}, indexer)
	res := postJSON(t, handler, "/v1/documents/index/async", map[string]any{"document_name": "a"})
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}

func TestHealthzReportsFailingChecks(t *testing.T) {
	handler := newTestHandler(config.Config{}, &answererFake{}, &indexerFake{},
		WithHealthCheck("qdrant", func(context.Context) error { return nil }),
		WithHealthCheck("postgres", func(context.Context) error { return errors.New("connection refused") }),
	)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body.Status != "degraded" || body.Checks["qdrant"] != "ok" || body.Checks["postgres"] == "ok" {
		t.Fatalf("unexpected health body: %+v", body)
	}
}

func TestMetricsEndpointExposesRegistry(t *testing.T) {
	m := metrics.NewHTTPServerMetrics("rag-api")
	handler := newTestHandler(config.Config{}, &answererFake{}, &indexerFake{}, WithMetrics(m))

	_ = postJSON(t, handler, "/v1/ask", map[string]any{"question": "q"})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), `paa_http_requests_total{method="POST",path="/v1/ask",service="rag-api",status="200"} 1`) {
		t.Fatalf("expected ask request in metrics output:\n%s", res.Body.String())
	}
}
