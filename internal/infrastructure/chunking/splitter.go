package chunking

import (
	"fmt"
	"strings"

	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
)

const (
	DefaultChunkSize = 220
	DefaultOverlap   = 40
)

// Splitter cuts text into windows of ChunkSize words where consecutive
// windows share Overlap words.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "new splitter", fmt.Errorf("chunk size must be positive, got %d", chunkSize))
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, domain.WrapError(domain.ErrInvalidInput, "new splitter", fmt.Errorf("overlap must be in [0, %d), got %d", chunkSize, overlap))
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}, nil
}

func (s *Splitter) Split(text string) []domain.Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	step := s.ChunkSize - s.Overlap
	out := make([]domain.Chunk, 0, len(words)/step+1)
	for start := 0; start < len(words); start += step {
		end := min(start+s.ChunkSize, len(words))
		out = append(out, domain.Chunk{
			Text:  strings.Join(words[start:end], " "),
			Order: len(out),
		})
		if end == len(words) {
			break
		}
	}
	return out
}
