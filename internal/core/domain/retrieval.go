package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Metadata keys written at indexing time and read back from search hits.
const (
	MetaChunkID      = "chunk_id"
	MetaDocumentName = "document_name"
	MetaVersion      = "version"
	MetaPageNumber   = "page_number"
	MetaSection      = "section"
	MetaChunkOrder   = "chunk_order"
	MetaChunkType    = "chunk_type"
	MetaIsActive     = "is_active"
	MetaTimestamp    = "timestamp"
	MetaText         = "text"
)

type SearchFilter struct {
	Version       string
	DocumentNames []string
}

// Normalize trims the version and removes blank or repeated document names,
// keeping the first occurrence order.
func (f SearchFilter) Normalize() SearchFilter {
	out := SearchFilter{Version: strings.TrimSpace(f.Version)}
	if len(f.DocumentNames) == 0 {
		return out
	}
	seen := make(map[string]struct{}, len(f.DocumentNames))
	for _, name := range f.DocumentNames {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out.DocumentNames = append(out.DocumentNames, name)
	}
	return out
}

// WithoutVersion drops the version constraint and keeps the document scope.
func (f SearchFilter) WithoutVersion() SearchFilter {
	return SearchFilter{DocumentNames: f.DocumentNames}
}

// Hit is one retrieved passage. Score is replaced by the fused relevance
// score after reranking.
type Hit struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (h Hit) MetaString(key string) (string, bool) {
	v, ok := h.Metadata[key]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprintf("%v", v), true
}

func (h Hit) MetaStringOr(key, fallback string) string {
	if s, ok := h.MetaString(key); ok {
		return s
	}
	return fallback
}

// MetaInt reads numeric metadata stored either as a JSON number or a string.
func (h Hit) MetaInt(key string) (int, bool) {
	v, ok := h.Metadata[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case float32:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// IsActive treats a missing flag as active.
func (h Hit) IsActive() bool {
	v, ok := h.Metadata[MetaIsActive]
	if !ok || v == nil {
		return true
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return true
		}
		return parsed
	default:
		return true
	}
}

func (h Hit) DocumentName() string {
	return h.MetaStringOr(MetaDocumentName, "")
}

type RetrievalResult struct {
	Hits       []Hit   `json:"hits"`
	Confidence float64 `json:"confidence"`
}
