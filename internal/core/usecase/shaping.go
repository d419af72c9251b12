package usecase

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
)

const (
	briefMaxSentences  = 3
	deepMinWords       = 80
	deepDetailHits     = 3
	deepSnippetRunes   = 220
	extractSnippetRune = 280
	chartMaxHits       = 4
)

// ShapeAnswer trims or expands generated text for the requested mode. The
// refusal text is returned unchanged.
func ShapeAnswer(answer string, mode domain.AnswerMode, hits []domain.Hit) string {
	text := strings.TrimSpace(answer)
	if text == domain.RefusalText {
		return text
	}

	switch mode {
	case domain.AnswerModeBrief:
		if brief := firstSentences(text, briefMaxSentences); brief != "" {
			return brief
		}
		return text
	case domain.AnswerModeDeep:
		if len(strings.Fields(text)) >= deepMinWords {
			return text
		}
		details := make([]string, 0, deepDetailHits)
		for _, hit := range hits[:min(len(hits), deepDetailHits)] {
			snippet := strings.TrimSpace(truncateRunes(collapseWhitespace(hit.Text), deepSnippetRunes))
			if snippet == "" {
				continue
			}
			details = append(details, fmt.Sprintf("- %s: %s", hit.MetaStringOr(domain.MetaSection, "n/a"), snippet))
		}
		if len(details) == 0 {
			return text
		}
		return text + "\n\nДополнительно из контекста / Additional context:\n" + strings.Join(details, "\n")
	default:
		return text
	}
}

// firstSentences keeps up to limit sentences, where a sentence ends at
// '.', '!' or '?' followed by whitespace.
func firstSentences(text string, limit int) string {
	text = strings.TrimSpace(text)
	sentences := make([]string, 0, limit)
	start := 0
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		next := i + utf8.RuneLen(r)
		if next >= len(text) {
			break
		}
		nr, _ := utf8.DecodeRuneInString(text[next:])
		if !unicode.IsSpace(nr) {
			continue
		}
		if s := strings.TrimSpace(text[start:next]); s != "" {
			sentences = append(sentences, s)
		}
		start = next
		if len(sentences) == limit {
			return strings.Join(sentences, " ")
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return strings.TrimSpace(strings.Join(sentences[:min(len(sentences), limit)], " "))
}

// ExtractiveAnswer builds an answer from hit snippets when generation is not
// usable. It returns the refusal text when no hit has any text.
func ExtractiveAnswer(hits []domain.Hit, mode domain.AnswerMode) string {
	limit := 3
	switch mode {
	case domain.AnswerModeBrief:
		limit = 1
	case domain.AnswerModeDeep:
		limit = 5
	}

	lines := make([]string, 0, limit)
	for _, hit := range hits[:min(len(hits), limit)] {
		snippet := strings.TrimSpace(truncateRunes(collapseWhitespace(hit.Text), extractSnippetRune))
		if snippet == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s", hit.MetaStringOr(domain.MetaSection, "n/a"), snippet))
	}
	if len(lines) == 0 {
		return domain.RefusalText
	}
	if mode == domain.AnswerModeBrief {
		return "Найдено в базе знаний / Found in knowledge base: " + strings.TrimPrefix(lines[0], "- ")
	}
	return "Найдено в документации / Found in documentation:\n" + strings.Join(lines, "\n")
}

func hasChartBlock(answer string) bool {
	return strings.Contains(answer, "```mermaid")
}

func relevanceChart(hits []domain.Hit) string {
	top := hits[:min(len(hits), chartMaxHits)]
	labels := make([]string, len(top))
	values := make([]string, len(top))
	for i, hit := range top {
		labels[i] = fmt.Sprintf("%q", fmt.Sprintf("S%d", i+1))
		values[i] = fmt.Sprintf("%.3f", hit.Score)
	}
	return strings.Join([]string{
		"```mermaid",
		"xychart-beta",
		`    title "Retrieval relevance scores"`,
		"    x-axis [" + strings.Join(labels, ", ") + "]",
		`    y-axis "score" 0 --> 1`,
		"    bar [" + strings.Join(values, ", ") + "]",
		"```",
	}, "\n")
}

// buildContext renders hits as numbered source blocks for the prompt.
func buildContext(hits []domain.Hit) string {
	blocks := make([]string, 0, len(hits))
	for i, hit := range hits {
		blocks = append(blocks, fmt.Sprintf("[Source %d] Document=%s Page=%s Section=%s Version=%s\n%s",
			i+1,
			hit.MetaStringOr(domain.MetaDocumentName, unknownLabel),
			hit.MetaStringOr(domain.MetaPageNumber, "n/a"),
			hit.MetaStringOr(domain.MetaSection, "n/a"),
			hit.MetaStringOr(domain.MetaVersion, unknownLabel),
			hit.Text,
		))
	}
	return strings.Join(blocks, "\n\n")
}
