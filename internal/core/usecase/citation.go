package usecase

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
)

const (
	maxQuoteRunes  = 240
	unknownLabel   = "unknown"
	ellipsisMarker = "..."
)

var sectionPagePattern = regexp.MustCompile(`^page_(\d+)`)

// CitationEngine derives sources from hits and re-checks every quote against
// the passages it came from.
type CitationEngine struct {
	maxSources int
}

func NewCitationEngine(maxSources int) *CitationEngine {
	if maxSources <= 0 {
		maxSources = 3
	}
	return &CitationEngine{maxSources: maxSources}
}

func (c *CitationEngine) BuildSources(hits []domain.Hit) []domain.Source {
	limit := min(len(hits), c.maxSources)
	sources := make([]domain.Source, 0, limit)
	for _, hit := range hits[:limit] {
		source := domain.Source{
			DocumentName: hit.MetaStringOr(domain.MetaDocumentName, unknownLabel),
			PageNumber:   resolvePageNumber(hit),
			Quote:        compactQuote(hit.Text),
			Version:      hit.MetaStringOr(domain.MetaVersion, unknownLabel),
		}
		if section, ok := hit.MetaString(domain.MetaSection); ok {
			source.Section = &section
		}
		sources = append(sources, source)
	}
	return sources
}

// Validate reports whether every quote is a literal substring of at least one
// hit's text. An empty quote never validates.
func (c *CitationEngine) Validate(sources []domain.Source, hits []domain.Hit) bool {
	for _, source := range sources {
		quote := source.Quote
		if quote == "" {
			return false
		}
		if strings.HasSuffix(quote, ellipsisMarker) {
			quote = strings.TrimRight(strings.TrimSuffix(quote, ellipsisMarker), " \t\n\r")
		}
		found := false
		for _, hit := range hits {
			if strings.Contains(hit.Text, quote) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (c *CitationEngine) FormatAnswer(answer string, sources []domain.Source) string {
	var b strings.Builder
	b.WriteString("Ответ / Answer:\n")
	b.WriteString(strings.TrimSpace(answer))
	b.WriteString("\n\nИсточники / Sources:")
	for i, source := range sources {
		page := "не указана / unspecified"
		if source.PageNumber != nil && *source.PageNumber > 0 {
			page = strconv.Itoa(*source.PageNumber)
		}
		section := "n/a"
		if source.Section != nil && *source.Section != "" {
			section = *source.Section
		}
		b.WriteString("\n")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". Документ / Document: ")
		b.WriteString(source.DocumentName)
		b.WriteString("\n   Страница / Page: ")
		b.WriteString(page)
		b.WriteString("\n   Раздел / Section: ")
		b.WriteString(section)
		b.WriteString("\n   Цитата / Quote: \"")
		b.WriteString(source.Quote)
		b.WriteString("\"")
	}
	return strings.TrimSpace(b.String())
}

func compactQuote(text string) string {
	cleaned := collapseWhitespace(text)
	return strings.TrimRight(truncateRunes(cleaned, maxQuoteRunes), " ")
}

func resolvePageNumber(hit domain.Hit) *int {
	if page, ok := hit.MetaInt(domain.MetaPageNumber); ok && page > 0 {
		return &page
	}
	section := strings.ToLower(strings.TrimSpace(hit.MetaStringOr(domain.MetaSection, "")))
	if m := sectionPagePattern.FindStringSubmatch(section); m != nil {
		if page, err := strconv.Atoi(m[1]); err == nil && page > 0 {
			return &page
		}
	}
	if order, ok := hit.MetaInt(domain.MetaChunkOrder); ok && order+1 > 0 {
		page := order + 1
		return &page
	}
	return nil
}
