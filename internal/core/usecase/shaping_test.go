package usecase

import (
	"strings"
	"testing"

	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
)

func sectionHit(section, text string) domain.Hit {
	return domain.Hit{Text: text, Metadata: map[string]any{domain.MetaSection: section}}
}

func TestShapeBriefKeepsThreeSentences(t *testing.T) {
	got := ShapeAnswer("One. Two! Three? Four. Five.", domain.AnswerModeBrief, nil)
	if got != "One. Two! Three?" {
		t.Fatalf("unexpected brief answer: %q", got)
	}
}

func TestShapeBriefDoesNotSplitDecimals(t *testing.T) {
	got := ShapeAnswer("Price is 1.5 units. Second.", domain.AnswerModeBrief, nil)
	if got != "Price is 1.5 units. Second." {
		t.Fatalf("unexpected brief answer: %q", got)
	}
}

func TestShapeDeepAppendsContextForShortAnswers(t *testing.T) {
	hits := []domain.Hit{
		sectionHit("Pricing", "Retail   price is 100."),
		sectionHit("Support", "Support is 24/7."),
		sectionHit("SLA", "Uptime 99.9%."),
		sectionHit("Extra", "not included"),
	}

	got := ShapeAnswer("Short answer.", domain.AnswerModeDeep, hits)
	want := "Short answer.\n\nДополнительно из контекста / Additional context:\n" +
		"- Pricing: Retail price is 100.\n- Support: Support is 24/7.\n- SLA: Uptime 99.9%."
	if got != want {
		t.Fatalf("unexpected deep answer:\n%s", got)
	}
}

func TestShapeDeepLeavesLongAnswers(t *testing.T) {
	long := strings.TrimSpace(strings.Repeat("word ", 80))
	if got := ShapeAnswer(long, domain.AnswerModeDeep, []domain.Hit{sectionHit("s", "text")}); got != long {
		t.Fatalf("expected long answer unchanged")
	}
}

func TestShapeNeverReshapesRefusal(t *testing.T) {
	for _, mode := range []domain.AnswerMode{domain.AnswerModeBrief, domain.AnswerModeStandard, domain.AnswerModeDeep} {
		if got := ShapeAnswer(" "+domain.RefusalText+"\n", mode, []domain.Hit{sectionHit("s", "text")}); got != domain.RefusalText {
			t.Fatalf("mode %s reshaped refusal: %q", mode, got)
		}
	}
}

func TestShapeStandardOnlyTrims(t *testing.T) {
	if got := ShapeAnswer("  a. b. c. d.  ", domain.AnswerModeStandard, nil); got != "a. b. c. d." {
		t.Fatalf("unexpected standard answer: %q", got)
	}
}

func TestExtractiveAnswerByMode(t *testing.T) {
	hits := []domain.Hit{
		sectionHit("page_1", "First   passage."),
		sectionHit("page_2", "Second passage."),
		{Text: "Third passage."},
		sectionHit("page_4", "Fourth passage."),
	}

	brief := ExtractiveAnswer(hits, domain.AnswerModeBrief)
	if brief != "Найдено в базе знаний / Found in knowledge base: [page_1] First passage." {
		t.Fatalf("unexpected brief extractive answer: %q", brief)
	}

	standard := ExtractiveAnswer(hits, domain.AnswerModeStandard)
	want := "Найдено в документации / Found in documentation:\n" +
		"- [page_1] First passage.\n- [page_2] Second passage.\n- [n/a] Third passage."
	if standard != want {
		t.Fatalf("unexpected standard extractive answer:\n%s", standard)
	}

	if deep := ExtractiveAnswer(hits, domain.AnswerModeDeep); strings.Count(deep, "\n- ") != 4 {
		t.Fatalf("expected all four hits in deep mode:\n%s", deep)
	}
}

func TestExtractiveAnswerRefusesWithoutText(t *testing.T) {
	if got := ExtractiveAnswer([]domain.Hit{{Text: "   "}}, domain.AnswerModeStandard); got != domain.RefusalText {
		t.Fatalf("expected refusal, got %q", got)
	}
}

func TestRelevanceChart(t *testing.T) {
	hits := []domain.Hit{{Score: 0.91234}, {Score: 0.5}}
	want := "```mermaid\nxychart-beta\n" +
		"    title \"Retrieval relevance scores\"\n" +
		"    x-axis [\"S1\", \"S2\"]\n" +
		"    y-axis \"score\" 0 --> 1\n" +
		"    bar [0.912, 0.500]\n```"
	if got := relevanceChart(hits); got != want {
		t.Fatalf("unexpected chart:\n%s", got)
	}
}

func TestBuildContextHeaders(t *testing.T) {
	hits := []domain.Hit{
		{Text: "body", Metadata: map[string]any{domain.MetaDocumentName: "a.pdf", domain.MetaPageNumber: 2, domain.MetaVersion: "v1"}},
		{Text: "other"},
	}
	want := "[Source 1] Document=a.pdf Page=2 Section=n/a Version=v1\nbody\n\n" +
		"[Source 2] Document=unknown Page=n/a Section=n/a Version=unknown\nother"
	if got := buildContext(hits); got != want {
		t.Fatalf("unexpected context:\n%s", got)
	}
}
