// Package llm holds generation backend decorators shared across providers.
package llm

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
	"github.com/kirillkom/sales-tech-rag/internal/core/ports"
)

// Serialized allows one in-flight generation at a time. Runtimes that keep a
// single model context must not be entered concurrently. Waiting callers
// give up when their context ends.
type Serialized struct {
	next ports.GenerationBackend
	slot *semaphore.Weighted
}

func NewSerialized(next ports.GenerationBackend) *Serialized {
	return &Serialized{next: next, slot: semaphore.NewWeighted(1)}
}

func (s *Serialized) Generate(ctx context.Context, req domain.GenerationRequest) (domain.GenerationResult, error) {
	if err := s.slot.Acquire(ctx, 1); err != nil {
		return domain.GenerationResult{}, err
	}
	defer s.slot.Release(1)
	return s.next.Generate(ctx, req)
}
