package ports

import (
	"context"

	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
)

// QuestionAnswerer is the inbound contract for grounded question answering.
type QuestionAnswerer interface {
	Ask(ctx context.Context, req domain.AskRequest) (*domain.AnswerResponse, error)
}

// DocumentIndexer is the inbound contract for indexing pre-parsed documents.
type DocumentIndexer interface {
	Index(ctx context.Context, req domain.IndexRequest) (*domain.IndexedDocument, error)
	Enqueue(ctx context.Context, req domain.IndexRequest) error
	Deactivate(ctx context.Context, documentName, version string) error
	List(ctx context.Context, activeOnly bool) ([]domain.IndexedDocument, error)
}
