package domain

import "time"

// TextElement is one parsed fragment of a source document. Parsing itself
// happens upstream.
type TextElement struct {
	Text       string `json:"text"`
	PageNumber *int   `json:"page_number,omitempty"`
	Section    string `json:"section,omitempty"`
	Type       string `json:"type,omitempty"`
}

const (
	ElementTypeText  = "text"
	ElementTypeTable = "table"
)

type IndexRequest struct {
	DocumentName string        `json:"document_name"`
	Version      string        `json:"version"`
	Elements     []TextElement `json:"elements"`
}

type Chunk struct {
	Text  string
	Order int
}

type ChunkRecord struct {
	ID       string
	Text     string
	Metadata map[string]any
}

type IndexedDocument struct {
	DocumentName  string    `json:"document_name"`
	Version       string    `json:"version"`
	ChunksIndexed int       `json:"chunks_indexed"`
	Active        bool      `json:"active"`
	IndexedAt     time.Time `json:"indexed_at"`
}
