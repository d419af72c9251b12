package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
	"github.com/kirillkom/sales-tech-rag/internal/infrastructure/llm/prompting"
	"github.com/kirillkom/sales-tech-rag/internal/infrastructure/resilience"
)

type Config struct {
	BaseURL     string
	ChatModel   string
	EmbedModel  string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type Client struct {
	baseURL    string
	cfg        Config
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(cfg Config, executor *resilience.Executor) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		executor:   executor,
	}
}

// Embedder is the raw embedding model served by Ollama.
type Embedder struct {
	client *Client
}

// LoadEmbedder verifies the embedding model is available before first use.
func LoadEmbedder(ctx context.Context, client *Client) (*Embedder, error) {
	request := map[string]any{"model": client.cfg.EmbedModel}
	var response struct {
		Details map[string]any `json:"details"`
	}
	if err := client.postJSON(ctx, "/api/show", request, &response, "show"); err != nil {
		return nil, mapError("load embedding model", err, domain.ErrEmbedding)
	}
	return &Embedder{client: client}, nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": e.client.cfg.EmbedModel,
		"input": texts,
	}
	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.postJSON(ctx, "/api/embed", request, &response, "embed"); err != nil {
		return nil, mapError("ollama embed", err, domain.ErrEmbedding)
	}
	return response.Embeddings, nil
}

// Generator answers through the Ollama chat endpoint.
type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Generate(ctx context.Context, req domain.GenerationRequest) (domain.GenerationResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.client.cfg.Timeout)
	defer cancel()

	request := map[string]any{
		"model":    g.client.cfg.ChatModel,
		"messages": prompting.Messages(req),
		"stream":   false,
		"options": map[string]any{
			"temperature": g.client.cfg.Temperature,
			"num_predict": g.client.cfg.MaxTokens,
		},
	}
	var response struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		PromptEvalCount int `json:"prompt_eval_count"`
		EvalCount       int `json:"eval_count"`
	}

	err := g.client.executor.Execute(callCtx, "ollama.chat", func(opCtx context.Context) error {
		return g.client.postJSON(opCtx, "/api/chat", request, &response, "chat")
	}, classifyError)
	if err != nil {
		if ctx.Err() == nil && callCtx.Err() != nil {
			return domain.GenerationResult{}, domain.WrapError(domain.ErrGenerationTimeout, "ollama chat", err)
		}
		return domain.GenerationResult{}, mapError("ollama chat", err, domain.ErrGenerationFailed)
	}

	answer := strings.TrimSpace(response.Message.Content)
	if answer == "" {
		return domain.GenerationResult{}, domain.WrapError(domain.ErrEmptyGeneration, "ollama chat", fmt.Errorf("model %s returned empty content", g.client.cfg.ChatModel))
	}
	return domain.GenerationResult{
		Answer:       answer,
		InputTokens:  response.PromptEvalCount,
		OutputTokens: response.EvalCount,
	}, nil
}
