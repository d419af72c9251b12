package usecase

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
)

const minTokenLength = 2

var numberPattern = regexp.MustCompile(`\d+(?:[.,]\d+)?`)

type RerankWeights struct {
	Semantic    float64
	Lexical     float64
	Numeric     float64
	PhraseBonus float64
}

func DefaultRerankWeights() RerankWeights {
	return RerankWeights{
		Semantic:    0.6,
		Lexical:     0.3,
		Numeric:     0.1,
		PhraseBonus: 0.05,
	}
}

// HybridReranker fuses the vector score with lexical and numeric overlap.
type HybridReranker struct {
	weights RerankWeights
}

func NewHybridReranker(weights RerankWeights) *HybridReranker {
	return &HybridReranker{weights: weights}
}

// Rerank overwrites each hit's score with the fused score and returns the
// topK hits ordered by it.
func (r *HybridReranker) Rerank(question string, hits []domain.Hit, topK int) []domain.Hit {
	if len(hits) == 0 {
		return []domain.Hit{}
	}
	if topK <= 0 || topK > len(hits) {
		topK = len(hits)
	}

	queryTokens := toTokenSet(question)
	queryNumbers := toNumberSet(question)
	queryPhrase := strings.Join(strings.Fields(strings.ToLower(question)), " ")

	for i := range hits {
		semantic := clamp01(hits[i].Score)
		lexical := overlapRatio(queryTokens, toTokenSet(hits[i].Text))
		numeric := overlapRatio(queryNumbers, toNumberSet(hits[i].Text))
		phrase := 0.0
		if queryPhrase != "" && strings.Contains(strings.ToLower(hits[i].Text), queryPhrase) {
			phrase = r.weights.PhraseBonus
		}
		hits[i].Score = clamp01(
			semantic*r.weights.Semantic +
				lexical*r.weights.Lexical +
				numeric*r.weights.Numeric +
				phrase,
		)
	}

	ranked := make([]domain.Hit, len(hits))
	copy(ranked, hits)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked[:topK]
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func overlapRatio(query, passage map[string]struct{}) float64 {
	if len(query) == 0 || len(passage) == 0 {
		return 0
	}
	shared := 0
	for token := range query {
		if _, ok := passage[token]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(query))
}

// lexicalOverlap is the share of question tokens present in the passage.
func lexicalOverlap(questionTokens map[string]struct{}, passage string) float64 {
	return overlapRatio(questionTokens, toTokenSet(passage))
}

func toTokenSet(s string) map[string]struct{} {
	tokens := splitAlphaNumLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		if utf8.RuneCountInString(token) < minTokenLength {
			continue
		}
		out[token] = struct{}{}
	}
	return out
}

func toNumberSet(s string) map[string]struct{} {
	raw := numberPattern.FindAllString(s, -1)
	out := make(map[string]struct{}, len(raw))
	for _, n := range raw {
		out[strings.ReplaceAll(n, ",", ".")] = struct{}{}
	}
	return out
}

func isTokenRune(r rune) bool {
	if r >= '0' && r <= '9' {
		return true
	}
	return unicode.In(r, unicode.Latin, unicode.Cyrillic)
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		if isTokenRune(r) {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
