package usecase

import (
	"strings"

	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
)

var requestKinds = []struct {
	kind    string
	markers []string
}{
	{kind: "practical", markers: []string{"как", "how", "step", "шаг"}},
	{kind: "comparison", markers: []string{"сравни", "compare", "difference", "отлич"}},
	{kind: "analytical", markers: []string{"почему", "why", "reason", "причин"}},
}

// KeywordProfiler classifies questions by substring markers and word count.
type KeywordProfiler struct{}

func NewKeywordProfiler() KeywordProfiler {
	return KeywordProfiler{}
}

func (KeywordProfiler) Profile(question string, queryType domain.QueryType) domain.QuestionProfile {
	return domain.QuestionProfile{
		Kind:       requestKind(question),
		Complexity: complexity(question),
		Domain:     queryType,
	}
}

func requestKind(question string) string {
	q := strings.ToLower(question)
	for _, rk := range requestKinds {
		for _, marker := range rk.markers {
			if strings.Contains(q, marker) {
				return rk.kind
			}
		}
	}
	return "informational"
}

func complexity(question string) string {
	switch words := len(strings.Fields(question)); {
	case words <= 6:
		return "basic"
	case words <= 16:
		return "advanced"
	default:
		return "expert"
	}
}
