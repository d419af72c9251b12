package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
	"github.com/kirillkom/sales-tech-rag/internal/core/ports"
)

const (
	lexicalFallbackOverlap  = 0.2
	lexicalFallbackMinScore = 0.06
	shortQueryMaxWords      = 3
	shortQueryFloor         = 0.05
	shortQueryThresholdFrac = 0.25
	lastResortMinScore      = 0.02
	dedupeTextRunes         = 220
)

type RetrieverConfig struct {
	TopK                int
	CandidateK          int
	SimilarityThreshold float64
}

func (c RetrieverConfig) normalize() RetrieverConfig {
	out := c
	if out.TopK <= 0 {
		out.TopK = 8
	}
	if out.CandidateK < out.TopK {
		out.CandidateK = out.TopK
	}
	return out
}

type Retriever struct {
	embedder ports.Embedder
	searcher ports.VectorSearcher
	reranker *HybridReranker
	cfg      RetrieverConfig
}

func NewRetriever(
	embedder ports.Embedder,
	searcher ports.VectorSearcher,
	reranker *HybridReranker,
	cfg RetrieverConfig,
) *Retriever {
	if reranker == nil {
		reranker = NewHybridReranker(DefaultRerankWeights())
	}
	return &Retriever{
		embedder: embedder,
		searcher: searcher,
		reranker: reranker,
		cfg:      cfg.normalize(),
	}
}

func (r *Retriever) Retrieve(ctx context.Context, question string, filter domain.SearchFilter) (*domain.RetrievalResult, error) {
	filter = filter.Normalize()

	vectors, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrieval, "embed question", err)
	}
	if len(vectors) == 0 {
		return nil, domain.WrapError(domain.ErrRetrieval, "embed question", errors.New("no vector returned"))
	}
	queryVector := vectors[0]

	hits, err := r.searcher.Search(ctx, queryVector, r.cfg.CandidateK, filter)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrieval, "search candidates", err)
	}
	if len(hits) == 0 && filter.Version != "" {
		// The requested version may be stale; fall back to any version in scope.
		hits, err = r.searcher.Search(ctx, queryVector, r.cfg.CandidateK, filter.WithoutVersion())
		if err != nil {
			return nil, domain.WrapError(domain.ErrRetrieval, "search candidates without version", err)
		}
	}
	rawCount := len(hits)

	reranked := r.reranker.Rerank(question, hits, r.cfg.TopK)
	filtered := make([]domain.Hit, 0, len(reranked))
	for _, hit := range reranked {
		if hit.Score >= r.cfg.SimilarityThreshold {
			filtered = append(filtered, hit)
		}
	}
	if len(filtered) == 0 && len(reranked) > 0 {
		filtered = r.fallback(question, reranked)
	}

	filtered = dedupeHits(filtered, r.cfg.TopK)
	confidence := 0.0
	for _, hit := range filtered {
		confidence = math.Max(confidence, hit.Score)
	}

	slog.Info("retrieval_stats",
		"raw_hits", rawCount,
		"reranked_hits", len(reranked),
		"filtered_hits", len(filtered),
		"confidence", roundTo(confidence, 4),
		"threshold", r.cfg.SimilarityThreshold,
	)
	return &domain.RetrievalResult{Hits: filtered, Confidence: confidence}, nil
}

// fallback keeps a single weak hit for short or ambiguous questions and
// rejects clearly irrelevant candidates.
func (r *Retriever) fallback(question string, reranked []domain.Hit) []domain.Hit {
	questionTokens := toTokenSet(question)

	bestLexical := reranked[0]
	bestOverlap := lexicalOverlap(questionTokens, bestLexical.Text)
	for _, hit := range reranked[1:] {
		overlap := lexicalOverlap(questionTokens, hit.Text)
		if overlap > bestOverlap || (overlap == bestOverlap && hit.Score > bestLexical.Score) {
			bestLexical = hit
			bestOverlap = overlap
		}
	}
	if bestOverlap >= lexicalFallbackOverlap || (bestOverlap > 0 && bestLexical.Score >= lexicalFallbackMinScore) {
		return []domain.Hit{bestLexical}
	}

	best := reranked[0]
	for _, hit := range reranked[1:] {
		if hit.Score > best.Score {
			best = hit
		}
	}
	shortCutoff := math.Max(shortQueryFloor, r.cfg.SimilarityThreshold*shortQueryThresholdFrac)
	if len(strings.Fields(question)) <= shortQueryMaxWords && best.Score >= shortCutoff {
		return []domain.Hit{best}
	}
	if best.Score >= lastResortMinScore {
		return []domain.Hit{best}
	}
	return nil
}

func dedupeHits(hits []domain.Hit, limit int) []domain.Hit {
	out := make([]domain.Hit, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, hit := range hits {
		key := fmt.Sprintf("%s\x00%s\x00%s",
			hit.MetaStringOr(domain.MetaDocumentName, ""),
			hit.MetaStringOr(domain.MetaSection, ""),
			truncateRunes(collapseWhitespace(hit.Text), dedupeTextRunes),
		)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, hit)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}

func roundTo(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}
