// Package openai generates answers through an OpenAI-compatible chat
// completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
	"github.com/kirillkom/sales-tech-rag/internal/infrastructure/lazy"
	"github.com/kirillkom/sales-tech-rag/internal/infrastructure/llm/prompting"
	"github.com/kirillkom/sales-tech-rag/internal/infrastructure/resilience"
)

const defaultBaseURL = "https://api.openai.com/v1"

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type TokenCounter interface {
	Count(text string) int
}

type client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type Generator struct {
	cfg      Config
	client   *lazy.Handle[*client]
	executor *resilience.Executor
	tokens   TokenCounter
}

func NewGenerator(cfg Config, executor *resilience.Executor, tokens TokenCounter) *Generator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Generator{
		cfg: cfg,
		client: lazy.New("openai client", func(context.Context) (*client, error) {
			if strings.TrimSpace(cfg.APIKey) == "" {
				return nil, errors.New("OPENAI_API_KEY is required")
			}
			baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
			if baseURL == "" {
				baseURL = defaultBaseURL
			}
			return &client{
				baseURL:    baseURL,
				apiKey:     cfg.APIKey,
				httpClient: &http.Client{Timeout: 120 * time.Second},
			}, nil
		}),
		executor: executor,
		tokens:   tokens,
	}
}

type chatRequest struct {
	Model       string              `json:"model"`
	Messages    []prompting.Message `json:"messages"`
	Temperature float64             `json:"temperature"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (g *Generator) Generate(ctx context.Context, req domain.GenerationRequest) (domain.GenerationResult, error) {
	c, err := g.client.Get(ctx)
	if err != nil {
		return domain.GenerationResult{}, domain.WrapError(domain.ErrBackendUnavailable, "openai client", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	messages := prompting.Messages(req)
	payload := chatRequest{
		Model:       g.cfg.Model,
		Messages:    messages,
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
	}

	response, err := resilience.Do(callCtx, g.executor, "openai.chat", func(opCtx context.Context) (chatResponse, error) {
		return c.chat(opCtx, payload)
	}, resilience.ClassifyHTTPError)
	if err != nil {
		if ctx.Err() == nil && callCtx.Err() != nil {
			return domain.GenerationResult{}, domain.WrapError(domain.ErrGenerationTimeout, "openai chat", err)
		}
		return domain.GenerationResult{}, mapError(err)
	}

	content := ""
	if len(response.Choices) > 0 {
		content = strings.TrimSpace(response.Choices[0].Message.Content)
	}
	if content == "" {
		return domain.GenerationResult{}, domain.WrapError(domain.ErrEmptyGeneration, "openai chat", errors.New("model returned empty content"))
	}

	result := domain.GenerationResult{Answer: content}
	if response.Usage != nil {
		result.InputTokens = response.Usage.PromptTokens
		result.OutputTokens = response.Usage.CompletionTokens
	} else if g.tokens != nil {
		for _, msg := range messages {
			result.InputTokens += g.tokens.Count(msg.Content)
		}
		result.OutputTokens = g.tokens.Count(content)
	}
	return result, nil
}

func (c *client) chat(ctx context.Context, payload chatRequest) (chatResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return chatResponse{}, fmt.Errorf("marshal chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return chatResponse{}, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return chatResponse{}, fmt.Errorf("openai chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return chatResponse{}, &resilience.StatusError{
			Service:    "openai",
			Operation:  "chat",
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(msg),
		}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return chatResponse{}, fmt.Errorf("decode chat response: %w", err)
	}
	return out, nil
}

func mapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrBackendUnavailable, "openai chat", err)
	}
	var statusErr *resilience.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusTooManyRequests && strings.Contains(statusErr.Body, "insufficient_quota") {
			return domain.WrapError(domain.ErrResourceExhausted, "openai chat", err)
		}
		return domain.WrapError(domain.ErrGenerationFailed, "openai chat", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.WrapError(domain.ErrBackendUnavailable, "openai chat", err)
	}
	return domain.WrapError(domain.ErrGenerationFailed, "openai chat", err)
}
