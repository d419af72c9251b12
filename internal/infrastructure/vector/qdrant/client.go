package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
	"github.com/kirillkom/sales-tech-rag/internal/infrastructure/resilience"
)

// Client talks to the Qdrant REST API. Hits with is_active=false are never
// returned from Search.
type Client struct {
	baseURL    string
	collection string
	apiKey     string
	httpClient *http.Client
	executor   *resilience.Executor

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

type Config struct {
	BaseURL    string
	Collection string
	APIKey     string
	Timeout    time.Duration
}

func New(cfg Config, executor *resilience.Executor) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		collection: cfg.Collection,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		executor:   executor,
	}
}

type searchPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func (c *Client) Search(
	ctx context.Context,
	queryVector []float32,
	topK int,
	filter domain.SearchFilter,
) ([]domain.Hit, error) {
	reqBody := map[string]any{
		"vector":       queryVector,
		"limit":        topK,
		"with_payload": true,
	}
	if must := searchConditions(filter); len(must) > 0 {
		reqBody["filter"] = map[string]any{"must": must}
	}

	var searchResp struct {
		Result []searchPoint `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", c.collection)
	err := c.call(ctx, http.MethodPost, path, reqBody, &searchResp, "search")
	if isNotFound(err) {
		return []domain.Hit{}, nil
	}
	if err != nil {
		return nil, unavailable(ctx, "qdrant search", err)
	}

	hits := make([]domain.Hit, 0, len(searchResp.Result))
	for _, point := range searchResp.Result {
		hit := domain.Hit{
			ID:       fmt.Sprintf("%v", point.ID),
			Score:    point.Score,
			Text:     payloadString(point.Payload, domain.MetaText),
			Metadata: point.Payload,
		}
		if !hit.IsActive() {
			continue
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func searchConditions(filter domain.SearchFilter) []map[string]any {
	must := make([]map[string]any, 0, 2)
	if filter.Version != "" {
		must = append(must, map[string]any{
			"key":   domain.MetaVersion,
			"match": map[string]any{"value": filter.Version},
		})
	}
	if len(filter.DocumentNames) > 0 {
		must = append(must, map[string]any{
			"key":   domain.MetaDocumentName,
			"match": map[string]any{"any": filter.DocumentNames},
		})
	}
	return must
}

// EnsureCollection creates the collection, recreating it when the stored
// vector size differs from vectorSize.
func (c *Client) EnsureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		return nil
	}

	path := fmt.Sprintf("/collections/%s", c.collection)
	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors json.RawMessage `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	err := c.call(ctx, http.MethodGet, path, nil, &info, "get collection")
	switch {
	case isNotFound(err):
	case err != nil:
		return unavailable(ctx, "qdrant get collection", err)
	default:
		if currentVectorSize(info.Result.Config.Params.Vectors) == vectorSize {
			c.ensuredCollection = true
			c.ensuredVectorSize = vectorSize
			return nil
		}
		if err := c.call(ctx, http.MethodDelete, path, nil, nil, "delete collection"); err != nil && !isNotFound(err) {
			return unavailable(ctx, "qdrant delete collection", err)
		}
	}

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	err = c.call(ctx, http.MethodPut, path, reqBody, nil, "create collection")
	var statusErr *resilience.StatusError
	if err != nil && !(errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusConflict) {
		return unavailable(ctx, "qdrant create collection", err)
	}
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
	return nil
}

func currentVectorSize(raw json.RawMessage) int {
	var single struct {
		Size int `json:"size"`
	}
	if err := json.Unmarshal(raw, &single); err == nil && single.Size > 0 {
		return single.Size
	}
	var named map[string]struct {
		Size int `json:"size"`
	}
	if err := json.Unmarshal(raw, &named); err == nil {
		for _, params := range named {
			return params.Size
		}
	}
	return 0
}

func (c *Client) Upsert(ctx context.Context, records []domain.ChunkRecord, vectors [][]float32) error {
	if len(records) == 0 {
		return nil
	}
	if len(records) != len(vectors) {
		return domain.WrapError(domain.ErrInvalidInput, "qdrant upsert", fmt.Errorf("%d records for %d vectors", len(records), len(vectors)))
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}
	points := make([]point, 0, len(records))
	for i, record := range records {
		payload := make(map[string]any, len(record.Metadata)+1)
		for k, v := range record.Metadata {
			payload[k] = v
		}
		payload[domain.MetaText] = record.Text
		points = append(points, point{ID: record.ID, Vector: vectors[i], Payload: payload})
	}

	path := fmt.Sprintf("/collections/%s/points?wait=true", c.collection)
	if err := c.call(ctx, http.MethodPut, path, map[string]any{"points": points}, nil, "upsert"); err != nil {
		return unavailable(ctx, "qdrant upsert", err)
	}
	return nil
}

// Deactivate flags active points of a document as inactive. An empty version
// matches every version.
func (c *Client) Deactivate(ctx context.Context, documentName, version string) error {
	must := []map[string]any{
		{"key": domain.MetaDocumentName, "match": map[string]any{"value": documentName}},
		{"key": domain.MetaIsActive, "match": map[string]any{"value": true}},
	}
	if version != "" {
		must = append(must, map[string]any{"key": domain.MetaVersion, "match": map[string]any{"value": version}})
	}
	reqBody := map[string]any{
		"payload": map[string]any{domain.MetaIsActive: false},
		"filter":  map[string]any{"must": must},
	}

	path := fmt.Sprintf("/collections/%s/points/payload?wait=true", c.collection)
	err := c.call(ctx, http.MethodPost, path, reqBody, nil, "set payload")
	if err != nil && !isNotFound(err) {
		return unavailable(ctx, "qdrant deactivate", err)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	if err := c.call(ctx, http.MethodGet, "/collections", nil, nil, "list collections"); err != nil {
		return unavailable(ctx, "qdrant ping", err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method, path string, payload any, out any, operation string) error {
	return c.executor.Execute(ctx, "qdrant."+strings.ReplaceAll(operation, " ", "_"), func(opCtx context.Context) error {
		return c.do(opCtx, method, path, payload, out, operation)
	}, classifyError)
}

func (c *Client) do(ctx context.Context, method, path string, payload any, out any, operation string) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", operation, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &resilience.StatusError{
			Service:    "qdrant",
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(msg),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

// classifyError keeps missing collections out of the breaker; they are an
// expected state before the first document is indexed.
func classifyError(err error) resilience.ErrorClassification {
	if isNotFound(err) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.ClassifyHTTPError(err)
}

func isNotFound(err error) bool {
	var statusErr *resilience.StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}

// unavailable marks err as a backend outage unless the caller gave up.
func unavailable(ctx context.Context, operation string, err error) error {
	if ctx.Err() != nil {
		return err
	}
	return domain.WrapError(domain.ErrBackendUnavailable, operation, err)
}

func payloadString(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
