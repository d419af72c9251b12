package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/sales-tech-rag/internal/config"
	"github.com/kirillkom/sales-tech-rag/internal/core/ports"
	"github.com/kirillkom/sales-tech-rag/internal/core/usecase"
	"github.com/kirillkom/sales-tech-rag/internal/infrastructure/chunking"
	"github.com/kirillkom/sales-tech-rag/internal/infrastructure/embedding"
	"github.com/kirillkom/sales-tech-rag/internal/infrastructure/enrichment/marketintel"
	"github.com/kirillkom/sales-tech-rag/internal/infrastructure/lazy"
	"github.com/kirillkom/sales-tech-rag/internal/infrastructure/llm"
	"github.com/kirillkom/sales-tech-rag/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/sales-tech-rag/internal/infrastructure/llm/openai"
	"github.com/kirillkom/sales-tech-rag/internal/infrastructure/queue/nats"
	"github.com/kirillkom/sales-tech-rag/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/sales-tech-rag/internal/infrastructure/resilience"
	"github.com/kirillkom/sales-tech-rag/internal/infrastructure/tokenizer"
	"github.com/kirillkom/sales-tech-rag/internal/infrastructure/vector/chromem"
	"github.com/kirillkom/sales-tech-rag/internal/infrastructure/vector/qdrant"
)

const (
	VectorBackendQdrant  = "qdrant"
	VectorBackendChromem = "chromem"

	LLMProviderOllama = "ollama"
	LLMProviderOpenAI = "openai"
)

type vectorBackend interface {
	ports.VectorSearcher
	ports.VectorIndex
}

type App struct {
	Config config.Config

	AskUC   *usecase.AskUseCase
	IndexUC *usecase.IndexUseCase
	Queue   ports.IndexQueue

	// HealthChecks holds one probe per remote dependency.
	HealthChecks map[string]func(context.Context) error

	closers []func()
}

type Option func(*options)

type options struct {
	observer resilience.Observer
	recorder ports.AnswerRecorder
}

// WithResilienceObserver reports retries and breaker transitions of every
// adapter executor.
func WithResilienceObserver(observer resilience.Observer) Option {
	return func(o *options) {
		o.observer = observer
	}
}

func WithAnswerRecorder(recorder ports.AnswerRecorder) Option {
	return func(o *options) {
		o.recorder = recorder
	}
}

func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	newExecutor := func(retryAttempts int) *resilience.Executor {
		rc := resilience.DefaultConfig()
		if retryAttempts > 0 {
			rc.RetryMaxAttempts = retryAttempts
		}
		exec := resilience.NewExecutor(rc)
		if o.observer != nil {
			exec.WithObserver(o.observer)
		}
		return exec
	}

	app := &App{
		Config:       cfg,
		HealthChecks: make(map[string]func(context.Context) error),
	}

	vectors, err := app.newVectorBackend(cfg, newExecutor(0))
	if err != nil {
		app.Close()
		return nil, err
	}

	ollamaClient := ollama.New(ollama.Config{
		BaseURL:     cfg.OllamaURL,
		ChatModel:   cfg.LLMModel,
		EmbedModel:  cfg.OllamaEmbedModel,
		Temperature: cfg.LLMTemperature,
		MaxTokens:   cfg.LLMMaxTokens,
		Timeout:     time.Duration(cfg.LLMTimeoutSeconds) * time.Second,
	}, newExecutor(0))

	cache, err := embedding.NewCache(cfg.EmbeddingCacheSize)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init embedding cache: %w", err)
	}
	embeddingModel := lazy.New("embedding model", func(ctx context.Context) (ports.EmbeddingModel, error) {
		model, err := ollama.LoadEmbedder(ctx, ollamaClient)
		if err != nil {
			return nil, err
		}
		return model, nil
	})
	embedder := embedding.NewService(embeddingModel, cache, newExecutor(cfg.EmbeddingRetryAttempts), embedding.Config{
		BatchSize: cfg.EmbeddingBatchSize,
		Workers:   cfg.EmbeddingWorkers,
	})

	backend, err := newGenerationBackend(cfg, ollamaClient, newExecutor(0))
	if err != nil {
		app.Close()
		return nil, err
	}

	var registry ports.DocumentRegistry
	if cfg.PostgresDSN != "" {
		db, err := postgres.OpenDB(ctx, cfg.PostgresDSN)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		app.closers = append(app.closers, func() { _ = db.Close() })
		repo := postgres.NewDocumentRegistry(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			app.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		registry = repo
		app.HealthChecks["postgres"] = repo.Ping
	}

	if cfg.NATSURL != "" {
		queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: newExecutor(0),
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init index queue: %w", err)
		}
		app.closers = append(app.closers, queue.Close)
		app.Queue = queue
		app.HealthChecks["nats"] = func(context.Context) error { return queue.Ping() }
	}

	chunker, err := chunking.NewSplitter(cfg.ChunkSizeWords, cfg.ChunkOverlapWords)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init chunker: %w", err)
	}

	reranker := usecase.NewHybridReranker(usecase.RerankWeights{
		Semantic:    cfg.RerankSemanticWeight,
		Lexical:     cfg.RerankLexicalWeight,
		Numeric:     cfg.RerankNumericWeight,
		PhraseBonus: cfg.RerankPhraseBonus,
	})
	retriever := usecase.NewRetriever(embedder, vectors, reranker, usecase.RetrieverConfig{
		TopK:                cfg.RAGTopK,
		CandidateK:          cfg.RAGCandidateK,
		SimilarityThreshold: cfg.RAGSimilarityThreshold,
	})

	askOpts := make([]usecase.AskOption, 0, 2)
	if cfg.MarketIntelEnabled {
		askOpts = append(askOpts, usecase.WithEnricher(marketintel.New(marketintel.Config{
			Enabled:      true,
			Timeout:      time.Duration(cfg.MarketIntelTimeoutSeconds) * time.Second,
			Tickers:      cfg.MarketIntelTickers,
			YahooBaseURL: cfg.MarketIntelYahooURL,
			StooqBaseURL: cfg.MarketIntelStooqURL,
		})))
	}
	if o.recorder != nil {
		askOpts = append(askOpts, usecase.WithAnswerRecorder(o.recorder))
	}

	app.AskUC = usecase.NewAskUseCase(
		retriever,
		usecase.NewKeywordProfiler(),
		usecase.NewAnswerGenerator(backend),
		usecase.NewCitationEngine(cfg.MaxSourcesPerAnswer),
		askOpts...,
	)
	app.IndexUC = usecase.NewIndexUseCase(chunker, embedder, vectors, registry, app.Queue)

	slog.Info("app_initialized",
		"vector_backend", cfg.VectorBackend,
		"llm_provider", cfg.LLMProvider,
		"llm_serialized", cfg.LLMSerialize,
		"registry_enabled", registry != nil,
		"queue_enabled", app.Queue != nil,
		"market_intel_enabled", cfg.MarketIntelEnabled,
	)
	return app, nil
}

func (a *App) newVectorBackend(cfg config.Config, executor *resilience.Executor) (vectorBackend, error) {
	switch cfg.VectorBackend {
	case VectorBackendQdrant, "":
		client := qdrant.New(qdrant.Config{
			BaseURL:    cfg.QdrantURL,
			Collection: cfg.QdrantCollection,
			APIKey:     cfg.QdrantAPIKey,
			Timeout:    time.Duration(cfg.QdrantTimeoutSec) * time.Second,
		}, executor)
		a.HealthChecks["qdrant"] = client.Ping
		return client, nil
	case VectorBackendChromem:
		store, err := chromem.New(chromem.Config{
			PersistPath: cfg.ChromemPath,
			Collection:  cfg.QdrantCollection,
			Compress:    cfg.ChromemCompress,
		})
		if err != nil {
			return nil, fmt.Errorf("init chromem store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported VECTOR_BACKEND %q", cfg.VectorBackend)
	}
}

func newGenerationBackend(cfg config.Config, ollamaClient *ollama.Client, executor *resilience.Executor) (ports.GenerationBackend, error) {
	var backend ports.GenerationBackend
	switch cfg.LLMProvider {
	case LLMProviderOllama, "":
		backend = ollama.NewGenerator(ollamaClient)
	case LLMProviderOpenAI:
		backend = openai.NewGenerator(openai.Config{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       cfg.OpenAIModel,
			Temperature: cfg.LLMTemperature,
			MaxTokens:   cfg.LLMMaxTokens,
			Timeout:     time.Duration(cfg.LLMTimeoutSeconds) * time.Second,
		}, executor, tokenizer.NewCounter(cfg.TokenizerEncode))
	default:
		return nil, fmt.Errorf("unsupported LLM_PROVIDER %q", cfg.LLMProvider)
	}
	if cfg.LLMSerialize {
		backend = llm.NewSerialized(backend)
	}
	return backend, nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
