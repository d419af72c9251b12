package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
	"github.com/kirillkom/sales-tech-rag/internal/infrastructure/resilience"
)

func testExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    1,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     1,
		BreakerEnabled:      false,
	})
}

func newTestClient(serverURL string) *Client {
	return New(Config{BaseURL: serverURL, Collection: "docs", Timeout: 2 * time.Second}, testExecutor())
}

func TestSearchSendsFilterAndDropsInactiveHits(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/collections/docs/points/search" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"result":[
			{"id":"a","score":0.91,"payload":{"text":"Цена 100","document_name":"price.pdf","version":"v1","is_active":true}},
			{"id":"b","score":0.80,"payload":{"text":"old","document_name":"price.pdf","version":"v1","is_active":false}},
			{"id":7,"score":0.50,"payload":{"text":"no flag","document_name":"tech.pdf"}}
		]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	hits, err := client.Search(context.Background(), []float32{0.1, 0.2}, 5, domain.SearchFilter{
		Version:       "v1",
		DocumentNames: []string{"price.pdf", "tech.pdf"},
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 active hits, got %d", len(hits))
	}
	if hits[0].Text != "Цена 100" || hits[0].DocumentName() != "price.pdf" {
		t.Fatalf("unexpected first hit: %+v", hits[0])
	}
	if hits[1].ID != "7" {
		t.Fatalf("expected numeric id rendered as string, got %q", hits[1].ID)
	}

	if captured["limit"].(float64) != 5 {
		t.Fatalf("expected limit 5, got %v", captured["limit"])
	}
	filter, ok := captured["filter"].(map[string]any)
	if !ok {
		t.Fatalf("expected filter in body, got %v", captured)
	}
	must := filter["must"].([]any)
	if len(must) != 2 {
		t.Fatalf("expected 2 conditions, got %d", len(must))
	}
	version := must[0].(map[string]any)
	if version["key"] != "version" || version["match"].(map[string]any)["value"] != "v1" {
		t.Fatalf("unexpected version condition: %v", version)
	}
	names := must[1].(map[string]any)["match"].(map[string]any)["any"].([]any)
	if len(names) != 2 || names[0] != "price.pdf" {
		t.Fatalf("unexpected document condition: %v", names)
	}
}

func TestSearchWithoutFilterOmitsFilter(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{"result":[]}`))
	}))
	defer server.Close()

	if _, err := newTestClient(server.URL).Search(context.Background(), []float32{1}, 3, domain.SearchFilter{}); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if _, ok := captured["filter"]; ok {
		t.Fatalf("expected no filter, got %v", captured["filter"])
	}
}

func TestSearchMissingCollectionReturnsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":{"error":"Not found: Collection docs"}}`, http.StatusNotFound)
	}))
	defer server.Close()

	hits, err := newTestClient(server.URL).Search(context.Background(), []float32{1}, 3, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if hits == nil || len(hits) != 0 {
		t.Fatalf("expected empty non-nil hits, got %#v", hits)
	}
}

func TestSearchServerErrorIsBackendUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Search(context.Background(), []float32{1}, 3, domain.SearchFilter{})
	if !domain.IsKind(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestEnsureCollectionRecreatesOnVectorSizeMismatch(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path)
		mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"result":{"config":{"params":{"vectors":{"size":384,"distance":"Cosine"}}}}}`))
		case http.MethodDelete:
			_, _ = w.Write([]byte(`{"result":true}`))
		case http.MethodPut:
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			size := body["vectors"].(map[string]any)["size"].(float64)
			if size != 768 {
				t.Errorf("expected size 768, got %v", size)
			}
			_, _ = w.Write([]byte(`{"result":true}`))
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	if err := client.EnsureCollection(context.Background(), 768); err != nil {
		t.Fatalf("EnsureCollection() error = %v", err)
	}
	if err := client.EnsureCollection(context.Background(), 768); err != nil {
		t.Fatalf("second EnsureCollection() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"GET /collections/docs", "DELETE /collections/docs", "PUT /collections/docs"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected calls: %v", calls)
	}
}

func TestEnsureCollectionKeepsMatchingCollection(t *testing.T) {
	var puts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut || r.Method == http.MethodDelete {
			puts++
		}
		_, _ = w.Write([]byte(`{"result":{"config":{"params":{"vectors":{"dense":{"size":3,"distance":"Cosine"}}}}}}`))
	}))
	defer server.Close()

	if err := newTestClient(server.URL).EnsureCollection(context.Background(), 3); err != nil {
		t.Fatalf("EnsureCollection() error = %v", err)
	}
	if puts != 0 {
		t.Fatalf("expected no recreate, got %d mutating calls", puts)
	}
}

func TestUpsertStoresTextInPayload(t *testing.T) {
	var captured struct {
		Points []struct {
			ID      string         `json:"id"`
			Vector  []float32      `json:"vector"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/collections/docs/points" || r.URL.Query().Get("wait") != "true" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.String())
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{"result":{"status":"completed"}}`))
	}))
	defer server.Close()

	records := []domain.ChunkRecord{{
		ID:       "4f7d3c1e-0000-4000-8000-000000000001",
		Text:     "Тариф стоит 100 рублей",
		Metadata: map[string]any{domain.MetaDocumentName: "price.pdf", domain.MetaIsActive: true},
	}}
	err := newTestClient(server.URL).Upsert(context.Background(), records, [][]float32{{0.5, 0.5}})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if len(captured.Points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(captured.Points))
	}
	point := captured.Points[0]
	if point.ID != records[0].ID || point.Payload["text"] != records[0].Text || point.Payload["document_name"] != "price.pdf" {
		t.Fatalf("unexpected point: %+v", point)
	}
}

func TestUpsertRejectsMismatchedVectors(t *testing.T) {
	client := newTestClient("http://127.0.0.1:1")
	err := client.Upsert(context.Background(), []domain.ChunkRecord{{ID: "a"}}, nil)
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDeactivateSetsInactivePayload(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/docs/points/payload" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{"result":{"status":"completed"}}`))
	}))
	defer server.Close()

	if err := newTestClient(server.URL).Deactivate(context.Background(), "price.pdf", "v2"); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
	if captured["payload"].(map[string]any)["is_active"] != false {
		t.Fatalf("expected is_active=false payload, got %v", captured["payload"])
	}
	must := captured["filter"].(map[string]any)["must"].([]any)
	if len(must) != 3 {
		t.Fatalf("expected 3 conditions with version, got %d", len(must))
	}
}

func TestDeactivateMissingCollectionIsNoop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	if err := newTestClient(server.URL).Deactivate(context.Background(), "price.pdf", ""); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
}

func TestAPIKeyHeader(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("api-key")
		_, _ = w.Write([]byte(`{"result":{"collections":[]}}`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, Collection: "docs", APIKey: "secret"}, testExecutor())
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if got != "secret" {
		t.Fatalf("expected api-key header, got %q", got)
	}
}
