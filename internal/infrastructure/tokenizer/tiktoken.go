// Package tokenizer counts tokens with tiktoken, falling back to a
// character heuristic when the encoding cannot be loaded.
package tokenizer

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kirillkom/sales-tech-rag/internal/infrastructure/lazy"
)

const DefaultEncoding = "cl100k_base"

type Counter struct {
	encoding *lazy.Handle[*tiktoken.Tiktoken]
	disabled atomic.Bool
}

func NewCounter(encodingName string) *Counter {
	if strings.TrimSpace(encodingName) == "" {
		encodingName = DefaultEncoding
	}
	return &Counter{
		encoding: lazy.New("tiktoken "+encodingName, func(context.Context) (*tiktoken.Tiktoken, error) {
			return tiktoken.GetEncoding(encodingName)
		}),
	}
}

// Count returns the token count of text. After the first failed encoding load
// the counter stays on the heuristic.
func (c *Counter) Count(text string) int {
	if c == nil || c.disabled.Load() {
		return EstimateFast(text)
	}
	enc, err := c.encoding.Get(context.Background())
	if err != nil {
		if c.disabled.CompareAndSwap(false, true) {
			slog.Warn("tokenizer_fallback", "error", err)
		}
		return EstimateFast(text)
	}
	return len(enc.Encode(text, nil, nil))
}

// EstimateFast returns max(runes/4, words), and at least 1 for non-blank text.
func EstimateFast(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	estimate := max(utf8.RuneCountInString(trimmed)/4, len(strings.Fields(trimmed)))
	return max(estimate, 1)
}
