package chromem

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
)

const defaultCollection = "documents"

var errExternalEmbedding = errors.New("chromem store expects precomputed embeddings")

type Config struct {
	// PersistPath enables gob persistence when set.
	PersistPath string
	Collection  string
	Compress    bool
}

// Store is an embedded vector backend for single-node deployments and tests.
// Metadata is flattened to strings; is_active is stored as "true"/"false".
type Store struct {
	db   *chromem.DB
	name string

	mu         sync.RWMutex
	collection *chromem.Collection
	vectorSize int
}

func New(cfg Config) (*Store, error) {
	if cfg.Collection == "" {
		cfg.Collection = defaultCollection
	}

	var (
		db  *chromem.DB
		err error
	)
	if cfg.PersistPath != "" {
		db, err = chromem.NewPersistentDB(cfg.PersistPath, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, rejectEmbedding)
	if err != nil {
		return nil, fmt.Errorf("open chromem collection: %w", err)
	}
	return &Store{db: db, name: cfg.Collection, collection: collection}, nil
}

func rejectEmbedding(context.Context, string) ([]float32, error) {
	return nil, errExternalEmbedding
}

func (s *Store) Search(
	ctx context.Context,
	queryVector []float32,
	topK int,
	filter domain.SearchFilter,
) ([]domain.Hit, error) {
	s.mu.RLock()
	collection := s.collection
	s.mu.RUnlock()

	count := collection.Count()
	if count == 0 || topK <= 0 {
		return []domain.Hit{}, nil
	}
	nResults := min(topK, count)

	// where clauses are equality-only, so a document scope fans out per name.
	wheres := make([]map[string]string, 0, max(1, len(filter.DocumentNames)))
	base := map[string]string{domain.MetaIsActive: "true"}
	if filter.Version != "" {
		base[domain.MetaVersion] = filter.Version
	}
	if len(filter.DocumentNames) == 0 {
		wheres = append(wheres, base)
	}
	for _, name := range filter.DocumentNames {
		where := make(map[string]string, len(base)+1)
		for k, v := range base {
			where[k] = v
		}
		where[domain.MetaDocumentName] = name
		wheres = append(wheres, where)
	}

	hits := make([]domain.Hit, 0, nResults)
	for _, where := range wheres {
		results, err := collection.QueryEmbedding(ctx, queryVector, nResults, where, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, domain.WrapError(domain.ErrBackendUnavailable, "chromem search", err)
		}
		for _, result := range results {
			hits = append(hits, toHit(result))
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func toHit(result chromem.Result) domain.Hit {
	metadata := make(map[string]any, len(result.Metadata)+1)
	for k, v := range result.Metadata {
		metadata[k] = v
	}
	metadata[domain.MetaText] = result.Content
	return domain.Hit{
		ID:       result.ID,
		Score:    float64(result.Similarity),
		Text:     result.Content,
		Metadata: metadata,
	}
}

// EnsureCollection drops the collection when the embedding dimension changes.
func (s *Store) EnsureCollection(_ context.Context, vectorSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vectorSize == 0 || s.vectorSize == vectorSize {
		s.vectorSize = vectorSize
		return nil
	}

	if err := s.db.DeleteCollection(s.name); err != nil {
		return domain.WrapError(domain.ErrBackendUnavailable, "chromem recreate collection", err)
	}
	collection, err := s.db.GetOrCreateCollection(s.name, nil, rejectEmbedding)
	if err != nil {
		return domain.WrapError(domain.ErrBackendUnavailable, "chromem recreate collection", err)
	}
	s.collection = collection
	s.vectorSize = vectorSize
	return nil
}

func (s *Store) Upsert(ctx context.Context, records []domain.ChunkRecord, vectors [][]float32) error {
	if len(records) == 0 {
		return nil
	}
	if len(records) != len(vectors) {
		return domain.WrapError(domain.ErrInvalidInput, "chromem upsert", fmt.Errorf("%d records for %d vectors", len(records), len(vectors)))
	}

	docs := make([]chromem.Document, 0, len(records))
	for i, record := range records {
		docs = append(docs, chromem.Document{
			ID:        record.ID,
			Content:   record.Text,
			Embedding: vectors[i],
			Metadata:  flattenMetadata(record.Metadata),
		})
	}

	s.mu.RLock()
	collection := s.collection
	s.mu.RUnlock()
	if err := collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return domain.WrapError(domain.ErrBackendUnavailable, "chromem upsert", err)
	}
	return nil
}

// Deactivate removes a document's chunks. chromem cannot patch metadata in
// place, so inactive chunks are deleted rather than flagged.
func (s *Store) Deactivate(ctx context.Context, documentName, version string) error {
	where := map[string]string{domain.MetaDocumentName: documentName}
	if version != "" {
		where[domain.MetaVersion] = version
	}

	s.mu.RLock()
	collection := s.collection
	s.mu.RUnlock()
	if err := collection.Delete(ctx, where, nil); err != nil {
		return domain.WrapError(domain.ErrBackendUnavailable, "chromem deactivate", err)
	}
	return nil
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collection.Count()
}

func flattenMetadata(metadata map[string]any) map[string]string {
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		switch value := v.(type) {
		case nil:
		case string:
			out[k] = value
		case bool:
			out[k] = strconv.FormatBool(value)
		case int:
			out[k] = strconv.Itoa(value)
		default:
			out[k] = fmt.Sprintf("%v", value)
		}
	}
	return out
}
