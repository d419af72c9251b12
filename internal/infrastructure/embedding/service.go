package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
	"github.com/kirillkom/sales-tech-rag/internal/core/ports"
	"github.com/kirillkom/sales-tech-rag/internal/infrastructure/lazy"
	"github.com/kirillkom/sales-tech-rag/internal/infrastructure/resilience"
)

type Config struct {
	BatchSize int
	Workers   int
}

// Service embeds texts through a cached, retried and concurrency-bounded
// model.
type Service struct {
	model     *lazy.Handle[ports.EmbeddingModel]
	cache     *Cache
	slots     *semaphore.Weighted
	executor  *resilience.Executor
	batchSize int
}

func NewService(
	model *lazy.Handle[ports.EmbeddingModel],
	cache *Cache,
	executor *resilience.Executor,
	cfg Config,
) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Service{
		model:     model,
		cache:     cache,
		slots:     semaphore.NewWeighted(int64(cfg.Workers)),
		executor:  executor,
		batchSize: cfg.BatchSize,
	}
}

// Embed returns one vector per non-blank input, in input order. Blank inputs
// are skipped; an input with no text at all is rejected.
func (s *Service) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	inputs := make([]string, 0, len(texts))
	for _, text := range texts {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			inputs = append(inputs, trimmed)
		}
	}
	if len(inputs) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "embed texts", errors.New("nothing to embed"))
	}

	vectors := make([][]float32, len(inputs))
	missing := make([]int, 0, len(inputs))
	for i, text := range inputs {
		if vector, ok := s.cache.Get(text); ok {
			vectors[i] = vector
			continue
		}
		missing = append(missing, i)
	}

	for start := 0; start < len(missing); start += s.batchSize {
		end := min(start+s.batchSize, len(missing))
		batch := make([]string, 0, end-start)
		for _, idx := range missing[start:end] {
			batch = append(batch, inputs[idx])
		}

		embedded, err := s.embedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		for j, idx := range missing[start:end] {
			vectors[idx] = embedded[j]
			s.cache.Add(inputs[idx], embedded[j])
		}
	}

	slog.Debug("embedding_batch_done", "inputs", len(inputs), "cache_misses", len(missing))
	return vectors, nil
}

func (s *Service) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	if err := s.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.slots.Release(1)

	var vectors [][]float32
	err := s.executor.Execute(ctx, "embedding.batch", func(callCtx context.Context) error {
		model, err := s.model.Get(callCtx)
		if err != nil {
			return err
		}
		out, err := model.EmbedBatch(callCtx, batch)
		if err != nil {
			return err
		}
		if len(out) != len(batch) {
			return fmt.Errorf("model returned %d vectors for %d texts", len(out), len(batch))
		}
		vectors = out
		return nil
	}, classifyEmbeddingError)
	if err == nil {
		return vectors, nil
	}

	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return nil, err
	case domain.IsKind(err, domain.ErrResourceExhausted):
		return nil, fmt.Errorf("embed batch: %w", err)
	case resilience.IsCircuitOpen(err):
		return nil, domain.WrapError(domain.ErrEmbedding, "embed batch",
			domain.WrapError(domain.ErrBackendUnavailable, "embedding circuit", err))
	default:
		return nil, domain.WrapError(domain.ErrEmbedding, "embed batch", err)
	}
}

func classifyEmbeddingError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	case resilience.IsCircuitOpen(err):
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	case domain.IsKind(err, domain.ErrResourceExhausted):
		// Memory pressure is a capacity signal, not an outage.
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	default:
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
}
