package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
	"github.com/kirillkom/sales-tech-rag/internal/core/ports"
)

const minTextChunkWords = 4

var (
	errRegistryDisabled = errors.New("document registry is not configured")
	errQueueDisabled    = errors.New("index queue is not configured")
)

type IndexUseCase struct {
	chunker  ports.Chunker
	embedder ports.Embedder
	index    ports.VectorIndex
	registry ports.DocumentRegistry
	queue    ports.IndexQueue
	now      func() time.Time
}

// NewIndexUseCase builds the indexing flow. registry and queue may be nil.
func NewIndexUseCase(
	chunker ports.Chunker,
	embedder ports.Embedder,
	index ports.VectorIndex,
	registry ports.DocumentRegistry,
	queue ports.IndexQueue,
) *IndexUseCase {
	return &IndexUseCase{
		chunker:  chunker,
		embedder: embedder,
		index:    index,
		registry: registry,
		queue:    queue,
		now:      time.Now,
	}
}

func (uc *IndexUseCase) Index(ctx context.Context, req domain.IndexRequest) (*domain.IndexedDocument, error) {
	req, err := normalizeIndexRequest(req)
	if err != nil {
		return nil, err
	}

	records := uc.buildRecords(req)
	if len(records) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "index document", errors.New("document contains no chunks"))
	}

	texts := make([]string, len(records))
	for i, record := range records {
		texts[i] = record.Text
	}
	vectors, err := uc.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(records) {
		return nil, domain.WrapError(domain.ErrEmbedding, "embed chunks", fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(records)))
	}

	if err := uc.index.EnsureCollection(ctx, len(vectors[0])); err != nil {
		return nil, fmt.Errorf("ensure collection: %w", err)
	}
	if err := uc.index.Upsert(ctx, records, vectors); err != nil {
		return nil, fmt.Errorf("upsert chunks: %w", err)
	}

	doc := &domain.IndexedDocument{
		DocumentName:  req.DocumentName,
		Version:       req.Version,
		ChunksIndexed: len(records),
		Active:        true,
		IndexedAt:     uc.now().UTC(),
	}
	if uc.registry != nil {
		if err := uc.registry.RecordIndexed(ctx, *doc); err != nil {
			return nil, fmt.Errorf("record indexed document: %w", err)
		}
	}

	slog.Info("document_indexed",
		"document_name", doc.DocumentName,
		"version", doc.Version,
		"chunks", doc.ChunksIndexed,
	)
	return doc, nil
}

// Enqueue validates the request and hands it to the worker queue.
func (uc *IndexUseCase) Enqueue(ctx context.Context, req domain.IndexRequest) error {
	if uc.queue == nil {
		return domain.WrapError(domain.ErrBackendUnavailable, "enqueue index request", errQueueDisabled)
	}
	req, err := normalizeIndexRequest(req)
	if err != nil {
		return err
	}
	if err := uc.queue.PublishIndexRequest(ctx, req); err != nil {
		return fmt.Errorf("publish index request: %w", err)
	}
	return nil
}

// Deactivate soft-deletes a document. An empty version deactivates every
// version of the document.
func (uc *IndexUseCase) Deactivate(ctx context.Context, documentName, version string) error {
	documentName = strings.TrimSpace(documentName)
	version = strings.TrimSpace(version)
	if documentName == "" {
		return domain.WrapError(domain.ErrInvalidInput, "deactivate document", errors.New("document_name is required"))
	}

	if err := uc.index.Deactivate(ctx, documentName, version); err != nil {
		return fmt.Errorf("deactivate vectors: %w", err)
	}
	if uc.registry != nil {
		rows, err := uc.registry.Deactivate(ctx, documentName, version)
		if err != nil {
			return fmt.Errorf("deactivate registry rows: %w", err)
		}
		slog.Info("document_deactivated", "document_name", documentName, "version", version, "registry_rows", rows)
		return nil
	}
	slog.Info("document_deactivated", "document_name", documentName, "version", version)
	return nil
}

func (uc *IndexUseCase) List(ctx context.Context, activeOnly bool) ([]domain.IndexedDocument, error) {
	if uc.registry == nil {
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "list documents", errRegistryDisabled)
	}
	docs, err := uc.registry.List(ctx, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

func (uc *IndexUseCase) buildRecords(req domain.IndexRequest) []domain.ChunkRecord {
	timestamp := uc.now().UTC().Format(time.RFC3339)
	records := make([]domain.ChunkRecord, 0, len(req.Elements))
	for _, element := range req.Elements {
		elementType := element.Type
		if elementType == "" {
			elementType = domain.ElementTypeText
		}
		for _, chunk := range uc.chunker.Split(element.Text) {
			text := collapseWhitespace(chunk.Text)
			if text == "" {
				continue
			}
			if elementType == domain.ElementTypeText && len(strings.Fields(text)) < minTextChunkWords {
				continue
			}
			id := uuid.NewString()
			metadata := map[string]any{
				domain.MetaChunkID:      id,
				domain.MetaDocumentName: req.DocumentName,
				domain.MetaSection:      element.Section,
				domain.MetaVersion:      req.Version,
				domain.MetaTimestamp:    timestamp,
				domain.MetaChunkOrder:   chunk.Order,
				domain.MetaChunkType:    elementType,
				domain.MetaIsActive:     true,
			}
			if element.PageNumber != nil {
				metadata[domain.MetaPageNumber] = *element.PageNumber
			}
			records = append(records, domain.ChunkRecord{ID: id, Text: text, Metadata: metadata})
		}
	}
	return records
}

func normalizeIndexRequest(req domain.IndexRequest) (domain.IndexRequest, error) {
	req.DocumentName = strings.TrimSpace(req.DocumentName)
	req.Version = strings.TrimSpace(req.Version)
	if req.DocumentName == "" {
		return req, domain.WrapError(domain.ErrInvalidInput, "index document", errors.New("document_name is required"))
	}
	if req.Version == "" {
		return req, domain.WrapError(domain.ErrInvalidInput, "index document", errors.New("version is required"))
	}
	if len(req.Elements) == 0 {
		return req, domain.WrapError(domain.ErrInvalidInput, "index document", errors.New("elements are required"))
	}
	return req, nil
}
