package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
	"github.com/kirillkom/sales-tech-rag/internal/core/ports"
)

// ExtractiveConfidenceFloor is the minimum retrieval confidence for answering
// from snippets when generation fails or refuses.
const ExtractiveConfidenceFloor = 0.15

const (
	outcomeAnswered = "answered"
	outcomeRefused  = "refused"
)

var errCitationMismatch = errors.New("quote not found in retrieved passages")

type AskUseCase struct {
	retriever *Retriever
	profiler  ports.QuestionProfiler
	generator *AnswerGenerator
	citations *CitationEngine
	enricher  ports.Enricher
	recorder  ports.AnswerRecorder
	now       func() time.Time
}

type AskOption func(*AskUseCase)

func WithEnricher(enricher ports.Enricher) AskOption {
	return func(uc *AskUseCase) {
		uc.enricher = enricher
	}
}

func WithAnswerRecorder(recorder ports.AnswerRecorder) AskOption {
	return func(uc *AskUseCase) {
		uc.recorder = recorder
	}
}

func NewAskUseCase(
	retriever *Retriever,
	profiler ports.QuestionProfiler,
	generator *AnswerGenerator,
	citations *CitationEngine,
	opts ...AskOption,
) *AskUseCase {
	if profiler == nil {
		profiler = NewKeywordProfiler()
	}
	if citations == nil {
		citations = NewCitationEngine(3)
	}
	uc := &AskUseCase{
		retriever: retriever,
		profiler:  profiler,
		generator: generator,
		citations: citations,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

func (uc *AskUseCase) Ask(ctx context.Context, req domain.AskRequest) (*domain.AnswerResponse, error) {
	started := uc.now()

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ask", errors.New("question is required"))
	}
	mode := req.Mode
	if mode == "" {
		mode = domain.AnswerModeStandard
	}
	queryType := req.QueryType
	if queryType == "" {
		queryType = domain.QueryTypeSales
	}

	retrieval, err := uc.retriever.Retrieve(ctx, question, domain.SearchFilter{
		Version:       req.Version,
		DocumentNames: req.DocumentNames,
	})
	if err != nil {
		return nil, err
	}
	if len(retrieval.Hits) == 0 || retrieval.Confidence <= 0 {
		return uc.refusal(started, "no_evidence"), nil
	}
	hits := retrieval.Hits

	profile := uc.profiler.Profile(question, queryType)
	generation, err := uc.generator.Generate(ctx, domain.GenerationRequest{
		Question:  question,
		QueryType: queryType,
		Context:   buildContext(hits),
		Profile:   profile.String(),
		Mode:      mode,
	})
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	var result domain.GenerationResult
	extractive := false
	switch generation.Outcome {
	case domain.GenerationAnswered:
		result = generation.Result
	case domain.GenerationRefused, domain.GenerationFailed:
		if generation.Outcome == domain.GenerationFailed {
			slog.Warn("generation_failed", "error", generation.Failure, "confidence", roundTo(retrieval.Confidence, 4))
		}
		if retrieval.Confidence < ExtractiveConfidenceFloor {
			return uc.refusal(started, "generation_"+generation.Outcome.String()), nil
		}
		result = domain.GenerationResult{Answer: ExtractiveAnswer(hits, mode)}
		if result.Answer == domain.RefusalText {
			return uc.refusal(started, "no_snippets"), nil
		}
		extractive = true
	default:
		return nil, fmt.Errorf("generate answer: unexpected outcome %d", generation.Outcome)
	}

	answer := ShapeAnswer(result.Answer, mode, hits)

	sources := uc.citations.BuildSources(hits)
	if len(sources) == 0 {
		return nil, domain.WrapError(domain.ErrCitationIntegrity, "build citations", errors.New("no sources"))
	}
	if !uc.citations.Validate(sources, hits) {
		return nil, domain.WrapError(domain.ErrCitationIntegrity, "validate citations", errCitationMismatch)
	}

	enriched := false
	if uc.enricher != nil {
		if block := strings.TrimSpace(uc.enricher.BuildBlock(ctx, question, hits)); block != "" {
			answer = answer + "\n\n" + block
			enriched = true
		}
	}
	if !hasChartBlock(answer) {
		answer = answer + "\n\n" + relevanceChart(hits)
	}

	usage := domain.TokenUsage{InputTokens: result.InputTokens, OutputTokens: result.OutputTokens}
	resp := &domain.AnswerResponse{
		Answer:           uc.citations.FormatAnswer(answer, sources),
		Sources:          sources,
		Confidence:       roundTo(retrieval.Confidence, 4),
		UsedDocuments:    usedDocuments(sources),
		Timestamp:        uc.now().UTC(),
		ProcessingTimeMS: uc.now().Sub(started).Milliseconds(),
		TokenUsage:       usage,
	}

	slog.Info("ask_completed",
		"confidence", resp.Confidence,
		"processing_time_ms", resp.ProcessingTimeMS,
		"used_documents", resp.UsedDocuments,
		"mode", string(mode),
		"query_type", string(queryType),
		"market_enriched", enriched,
		"extractive", extractive,
	)
	if uc.recorder != nil {
		uc.recorder.RecordAnswer(outcomeAnswered, extractive, usage)
	}
	return resp, nil
}

func (uc *AskUseCase) refusal(started time.Time, reason string) *domain.AnswerResponse {
	resp := &domain.AnswerResponse{
		Answer:           domain.RefusalText,
		Sources:          []domain.Source{},
		UsedDocuments:    []string{},
		Timestamp:        uc.now().UTC(),
		ProcessingTimeMS: uc.now().Sub(started).Milliseconds(),
	}
	slog.Info("ask_refused", "reason", reason, "processing_time_ms", resp.ProcessingTimeMS)
	if uc.recorder != nil {
		uc.recorder.RecordAnswer(outcomeRefused, false, domain.TokenUsage{})
	}
	return resp
}

func usedDocuments(sources []domain.Source) []string {
	seen := make(map[string]struct{}, len(sources))
	out := make([]string, 0, len(sources))
	for _, source := range sources {
		if _, ok := seen[source.DocumentName]; ok {
			continue
		}
		seen[source.DocumentName] = struct{}{}
		out = append(out, source.DocumentName)
	}
	sort.Strings(out)
	return out
}
