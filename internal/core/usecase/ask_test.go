package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
)

type enricherFake struct {
	block string
	calls int
}

func (f *enricherFake) BuildBlock(context.Context, string, []domain.Hit) string {
	f.calls++
	return f.block
}

type recorderFake struct {
	outcomes   []string
	extractive []bool
}

func (f *recorderFake) RecordAnswer(outcome string, extractive bool, _ domain.TokenUsage) {
	f.outcomes = append(f.outcomes, outcome)
	f.extractive = append(f.extractive, extractive)
}

func pricingHit(score float64) domain.Hit {
	return domain.Hit{
		ID:    "h1",
		Score: score,
		Text:  "Recommended retail price for AstroSecure 5000 is 149900 RUB.",
		Metadata: map[string]any{
			domain.MetaDocumentName: "price_list.pdf",
			domain.MetaVersion:      "2024",
			domain.MetaPageNumber:   3,
			domain.MetaSection:      "Pricing",
		},
	}
}

func newAskUseCase(hits []domain.Hit, backend *backendFake, opts ...AskOption) *AskUseCase {
	retriever := NewRetriever(&embedderFake{}, &searcherFake{responses: [][]domain.Hit{hits}}, semanticOnlyReranker(), RetrieverConfig{
		TopK: 5, CandidateK: 10, SimilarityThreshold: 0.2,
	})
	return NewAskUseCase(retriever, NewKeywordProfiler(), NewAnswerGenerator(backend), NewCitationEngine(3), opts...)
}

func answerBody(t *testing.T, answer string) string {
	t.Helper()
	body, _, ok := strings.Cut(answer, "\n\nИсточники / Sources:")
	if !ok {
		t.Fatalf("answer has no sources section:\n%s", answer)
	}
	return strings.TrimPrefix(body, "Ответ / Answer:\n")
}

func TestAskRefusesWithoutHitsAndSkipsGeneration(t *testing.T) {
	backend := &backendFake{result: domain.GenerationResult{Answer: "should not be used"}}
	recorder := &recorderFake{}
	uc := newAskUseCase(nil, backend, WithAnswerRecorder(recorder))

	resp, err := uc.Ask(context.Background(), domain.AskRequest{Question: "What is the price?"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if !resp.IsRefusal() || resp.Confidence != 0 || len(resp.Sources) != 0 {
		t.Fatalf("expected refusal shape, got %+v", resp)
	}
	if backend.calls != 0 {
		t.Fatalf("generation must not be invoked")
	}
	if len(recorder.outcomes) != 1 || recorder.outcomes[0] != "refused" {
		t.Fatalf("expected refused recording, got %v", recorder.outcomes)
	}
}

func TestAskRejectsBlankQuestion(t *testing.T) {
	_, err := newAskUseCase(nil, &backendFake{}).Ask(context.Background(), domain.AskRequest{Question: "  "})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestAskAnswersWithValidatedSources(t *testing.T) {
	backend := &backendFake{result: domain.GenerationResult{Answer: "Цена 149900 RUB.", InputTokens: 120, OutputTokens: 12}}
	uc := newAskUseCase([]domain.Hit{pricingHit(0.812345)}, backend)

	resp, err := uc.Ask(context.Background(), domain.AskRequest{
		Question:  "AstroSecure 5000 retail price",
		QueryType: domain.QueryTypeSales,
		Mode:      domain.AnswerModeStandard,
	})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if resp.IsRefusal() || len(resp.Sources) != 1 {
		t.Fatalf("expected grounded answer, got %+v", resp)
	}
	if resp.Confidence <= 0 || resp.Confidence > 1 {
		t.Fatalf("unexpected confidence %v", resp.Confidence)
	}
	if resp.Confidence != roundTo(resp.Confidence, 4) {
		t.Fatalf("confidence must be rounded to 4 digits: %v", resp.Confidence)
	}
	if len(resp.UsedDocuments) != 1 || resp.UsedDocuments[0] != "price_list.pdf" {
		t.Fatalf("unexpected used documents %v", resp.UsedDocuments)
	}
	if resp.TokenUsage.InputTokens != 120 || resp.TokenUsage.OutputTokens != 12 {
		t.Fatalf("unexpected token usage %+v", resp.TokenUsage)
	}
	if !strings.HasPrefix(resp.Answer, "Ответ / Answer:\nЦена 149900 RUB.") {
		t.Fatalf("unexpected answer:\n%s", resp.Answer)
	}
	if !strings.Contains(resp.Answer, "```mermaid") {
		t.Fatalf("expected default relevance chart")
	}
	if !strings.Contains(backend.last.Context, "[Source 1] Document=price_list.pdf Page=3 Section=Pricing Version=2024") {
		t.Fatalf("unexpected generation context:\n%s", backend.last.Context)
	}
	if !strings.Contains(backend.last.Profile, "- Domain: sales") {
		t.Fatalf("unexpected profile %q", backend.last.Profile)
	}
	if resp.Timestamp.Location().String() != "UTC" {
		t.Fatalf("expected UTC timestamp")
	}
}

func TestAskBriefModeKeepsThreeSentences(t *testing.T) {
	backend := &backendFake{result: domain.GenerationResult{Answer: "One. Two. Three. Four. Five."}}
	uc := newAskUseCase([]domain.Hit{pricingHit(0.8)}, backend)

	resp, err := uc.Ask(context.Background(), domain.AskRequest{Question: "price", Mode: domain.AnswerModeBrief})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	body := answerBody(t, resp.Answer)
	first, _, _ := strings.Cut(body, "\n\n```mermaid")
	if first != "One. Two. Three." {
		t.Fatalf("unexpected brief body: %q", first)
	}
}

func TestAskDeepModeAppendsContextDetails(t *testing.T) {
	backend := &backendFake{result: domain.GenerationResult{Answer: "Short grounded answer."}}
	uc := newAskUseCase([]domain.Hit{pricingHit(0.8)}, backend)

	resp, err := uc.Ask(context.Background(), domain.AskRequest{Question: "price", Mode: domain.AnswerModeDeep})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	body := answerBody(t, resp.Answer)
	if !strings.Contains(body, "Дополнительно из контекста / Additional context:\n- Pricing: Recommended retail price") {
		t.Fatalf("expected context details in deep answer:\n%s", body)
	}
}

func TestAskFallsBackToExtractiveAnswer(t *testing.T) {
	cases := []struct {
		name    string
		backend *backendFake
	}{
		{name: "literal refusal", backend: &backendFake{result: domain.GenerationResult{Answer: domain.RefusalText}}},
		{name: "timeout", backend: &backendFake{err: domain.WrapError(domain.ErrGenerationTimeout, "llm", errors.New("deadline"))}},
		{name: "empty", backend: &backendFake{result: domain.GenerationResult{Answer: ""}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recorder := &recorderFake{}
			uc := newAskUseCase([]domain.Hit{pricingHit(0.8)}, tc.backend, WithAnswerRecorder(recorder))

			resp, err := uc.Ask(context.Background(), domain.AskRequest{Question: "price"})
			if err != nil {
				t.Fatalf("Ask() error = %v", err)
			}
			if resp.IsRefusal() {
				t.Fatalf("expected extractive answer, got refusal")
			}
			if !strings.Contains(resp.Answer, "Найдено в документации / Found in documentation:\n- [Pricing] Recommended retail price") {
				t.Fatalf("unexpected extractive answer:\n%s", resp.Answer)
			}
			if resp.TokenUsage != (domain.TokenUsage{}) {
				t.Fatalf("extractive answer must report zero tokens, got %+v", resp.TokenUsage)
			}
			if len(recorder.extractive) != 1 || !recorder.extractive[0] {
				t.Fatalf("expected extractive recording")
			}
		})
	}
}

func TestAskRefusesWhenGenerationFailsBelowFloor(t *testing.T) {
	backend := &backendFake{result: domain.GenerationResult{Answer: domain.RefusalText}}
	uc := newAskUseCase([]domain.Hit{pricingHit(0.1)}, backend)

	resp, err := uc.Ask(context.Background(), domain.AskRequest{Question: "price"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if !resp.IsRefusal() || len(resp.Sources) != 0 {
		t.Fatalf("expected refusal below extractive floor, got %+v", resp)
	}
}

func TestAskFailsOnCitationMismatch(t *testing.T) {
	hit := pricingHit(0.8)
	hit.Text = "Retail  price\nis 100."
	uc := newAskUseCase([]domain.Hit{hit}, &backendFake{result: domain.GenerationResult{Answer: "ok"}})

	resp, err := uc.Ask(context.Background(), domain.AskRequest{Question: "price"})
	if !domain.IsKind(err, domain.ErrCitationIntegrity) {
		t.Fatalf("expected ErrCitationIntegrity, got %v", err)
	}
	if resp != nil {
		t.Fatalf("no response may be returned after citation failure")
	}
}

func TestAskAppendsEnrichmentInsteadOfDefaultChart(t *testing.T) {
	enricher := &enricherFake{block: "### Market\n```mermaid\nxychart-beta\n```"}
	uc := newAskUseCase([]domain.Hit{pricingHit(0.8)}, &backendFake{result: domain.GenerationResult{Answer: "ok"}}, WithEnricher(enricher))

	resp, err := uc.Ask(context.Background(), domain.AskRequest{Question: "price vs competitors"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if enricher.calls != 1 {
		t.Fatalf("expected enricher called once")
	}
	if !strings.Contains(resp.Answer, "### Market") {
		t.Fatalf("expected enrichment block")
	}
	if strings.Contains(resp.Answer, "Retrieval relevance scores") {
		t.Fatalf("default chart must be skipped when a chart exists")
	}
}

func TestAskPropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	backend := &backendFake{err: context.Canceled}
	uc := newAskUseCase([]domain.Hit{pricingHit(0.8)}, backend)
	cancel()

	_, err := uc.Ask(ctx, domain.AskRequest{Question: "price"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAskPropagatesRetrievalFailure(t *testing.T) {
	retriever := NewRetriever(&embedderFake{}, &searcherFake{err: errors.New("down")}, nil, RetrieverConfig{})
	uc := NewAskUseCase(retriever, nil, NewAnswerGenerator(&backendFake{}), nil)

	_, err := uc.Ask(context.Background(), domain.AskRequest{Question: "price"})
	if !domain.IsKind(err, domain.ErrRetrieval) {
		t.Fatalf("expected ErrRetrieval, got %v", err)
	}
}
