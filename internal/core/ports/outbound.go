package ports

import (
	"context"

	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
)

// Embedder turns non-empty texts into vectors, preserving input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingModel is the raw model behind the embedding service. It is not
// expected to cache or retry.
type EmbeddingModel interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorSearcher returns scored active hits for a query vector.
// A missing collection yields zero hits, not an error.
type VectorSearcher interface {
	Search(ctx context.Context, queryVector []float32, topK int, filter domain.SearchFilter) ([]domain.Hit, error)
}

// VectorIndex writes and soft-deletes indexed chunks.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, vectorSize int) error
	Upsert(ctx context.Context, records []domain.ChunkRecord, vectors [][]float32) error
	Deactivate(ctx context.Context, documentName, version string) error
}

// GenerationBackend runs one answer generation against a model.
type GenerationBackend interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (domain.GenerationResult, error)
}

// Enricher optionally builds an extra answer block. An empty string means no
// block; implementations apply their own timeout and never fail the request.
type Enricher interface {
	BuildBlock(ctx context.Context, question string, hits []domain.Hit) string
}

// QuestionProfiler classifies a question for prompt guidance.
type QuestionProfiler interface {
	Profile(question string, queryType domain.QueryType) domain.QuestionProfile
}

// Chunker splits normalized text into ordered overlapping chunks.
type Chunker interface {
	Split(text string) []domain.Chunk
}

// DocumentRegistry tracks indexed document versions.
type DocumentRegistry interface {
	RecordIndexed(ctx context.Context, doc domain.IndexedDocument) error
	Deactivate(ctx context.Context, documentName, version string) (int64, error)
	List(ctx context.Context, activeOnly bool) ([]domain.IndexedDocument, error)
}

// IndexQueue publishes/consumes asynchronous index requests.
type IndexQueue interface {
	PublishIndexRequest(ctx context.Context, req domain.IndexRequest) error
	SubscribeIndexRequests(ctx context.Context, handler func(context.Context, domain.IndexRequest) error) error
}

// AnswerRecorder observes finished ask requests.
type AnswerRecorder interface {
	RecordAnswer(outcome string, extractive bool, usage domain.TokenUsage)
}
