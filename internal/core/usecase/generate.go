package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
	"github.com/kirillkom/sales-tech-rag/internal/core/ports"
)

var errEmptyAnswer = errors.New("backend returned empty answer")

// AnswerGenerator turns backend calls into a tagged Generation. Context
// cancellation and an unreachable backend are returned as errors instead of
// a Failed outcome.
type AnswerGenerator struct {
	backend ports.GenerationBackend
}

func NewAnswerGenerator(backend ports.GenerationBackend) *AnswerGenerator {
	return &AnswerGenerator{backend: backend}
}

func (g *AnswerGenerator) Generate(ctx context.Context, req domain.GenerationRequest) (domain.Generation, error) {
	if strings.TrimSpace(req.Context) == "" {
		return domain.Refused(), nil
	}

	result, err := g.backend.Generate(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Generation{}, ctxErr
		}
		if domain.IsKind(err, domain.ErrBackendUnavailable) {
			return domain.Generation{}, err
		}
		if domain.IsGenerationFailure(err) {
			return domain.Failed(err), nil
		}
		return domain.Failed(domain.WrapError(domain.ErrGenerationFailed, "generate answer", err)), nil
	}

	result.Answer = strings.TrimSpace(result.Answer)
	switch result.Answer {
	case "":
		return domain.Failed(domain.WrapError(domain.ErrEmptyGeneration, "generate answer", errEmptyAnswer)), nil
	case domain.RefusalText:
		return domain.Refused(), nil
	}
	return domain.Answered(result), nil
}
