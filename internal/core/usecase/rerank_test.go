package usecase

import (
	"math"
	"testing"

	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
)

func TestRerankPromotesLexicalAndNumericMatch(t *testing.T) {
	hits := []domain.Hit{
		{ID: "semantic_only", Score: 0.72, Text: "General platform information without pricing details."},
		{ID: "lexical_match", Score: 0.42, Text: "Recommended retail price for AstroSecure 5000 is 149900 RUB."},
	}

	ranked := NewHybridReranker(DefaultRerankWeights()).Rerank("AstroSecure 5000 retail price", hits, 2)
	if len(ranked) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(ranked))
	}
	if ranked[0].ID != "lexical_match" {
		t.Fatalf("expected lexical_match first, got %s", ranked[0].ID)
	}
	if ranked[0].Score <= ranked[1].Score {
		t.Fatalf("expected descending scores, got %v", ranked)
	}
}

func TestRerankMutatesScoresInPlace(t *testing.T) {
	hits := []domain.Hit{{ID: "1", Score: 0.5, Text: "nothing shared"}}
	NewHybridReranker(DefaultRerankWeights()).Rerank("question words", hits, 1)
	if math.Abs(hits[0].Score-0.3) > 1e-9 {
		t.Fatalf("expected fused score 0.3 written back, got %v", hits[0].Score)
	}
}

func TestRerankScoreAlwaysWithinUnitInterval(t *testing.T) {
	weights := RerankWeights{Semantic: 3, Lexical: 2, Numeric: 2, PhraseBonus: 1}
	hits := []domain.Hit{
		{ID: "high", Score: 42, Text: "price 10 price"},
		{ID: "negative", Score: -5, Text: ""},
		{ID: "nan", Score: math.NaN(), Text: "price 10"},
	}

	for _, hit := range NewHybridReranker(weights).Rerank("price 10", hits, 3) {
		if hit.Score < 0 || hit.Score > 1 {
			t.Fatalf("score out of range for %s: %v", hit.ID, hit.Score)
		}
	}
}

func TestRerankPhraseBonusAppliesToVerbatimQuestion(t *testing.T) {
	hits := []domain.Hit{
		{ID: "phrase", Score: 0, Text: "The Audit   Log feature"},
		{ID: "verbatim", Score: 0, Text: "enable the audit log feature now"},
	}

	ranked := NewHybridReranker(DefaultRerankWeights()).Rerank("Audit  log", hits, 2)
	if ranked[0].ID != "verbatim" {
		t.Fatalf("expected verbatim phrase match first, got %s", ranked[0].ID)
	}
	if math.Abs(ranked[0].Score-0.35) > 1e-9 {
		t.Fatalf("expected 0.3 lexical + 0.05 bonus, got %v", ranked[0].Score)
	}
}

func TestRerankTruncatesToTopK(t *testing.T) {
	hits := []domain.Hit{{ID: "a", Score: 0.1}, {ID: "b", Score: 0.9}, {ID: "c", Score: 0.5}}
	ranked := NewHybridReranker(DefaultRerankWeights()).Rerank("q", hits, 2)
	if len(ranked) != 2 || ranked[0].ID != "b" || ranked[1].ID != "c" {
		t.Fatalf("unexpected top-k result: %+v", ranked)
	}
}

func TestRerankHandlesEmptyInput(t *testing.T) {
	out := NewHybridReranker(DefaultRerankWeights()).Rerank("risk", nil, 10)
	if len(out) != 0 {
		t.Fatalf("expected empty output, got %d", len(out))
	}
}

func TestTokenSetCoversCyrillicAndSkipsShortTokens(t *testing.T) {
	tokens := toTokenSet("Цена AstroSecure: a 5 ЁЛКА")
	for _, want := range []string{"цена", "astrosecure", "ёлка"} {
		if _, ok := tokens[want]; !ok {
			t.Fatalf("expected token %q in %v", want, tokens)
		}
	}
	if _, ok := tokens["a"]; ok {
		t.Fatalf("single-rune token must be dropped")
	}
}

func TestNumberSetNormalizesDecimalComma(t *testing.T) {
	numbers := toNumberSet("версия 2,5 и 3.10")
	if _, ok := numbers["2.5"]; !ok {
		t.Fatalf("expected 2.5 in %v", numbers)
	}
	if _, ok := numbers["3.10"]; !ok {
		t.Fatalf("expected 3.10 in %v", numbers)
	}
}
