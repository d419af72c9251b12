package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ServiceName string
	APIPort     string
	LogLevel    string

	APIRateLimitRPS   float64
	APIRateLimitBurst int
	APIMaxInFlight    int

	PostgresDSN string

	NATSURL     string
	NATSSubject string

	VectorBackend    string
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string
	QdrantTimeoutSec int
	ChromemPath      string
	ChromemCompress  bool

	OllamaURL        string
	OllamaEmbedModel string

	EmbeddingBatchSize     int
	EmbeddingCacheSize     int
	EmbeddingRetryAttempts int
	EmbeddingWorkers       int

	ChunkSizeWords    int
	ChunkOverlapWords int

	RAGTopK                int
	RAGCandidateK          int
	RAGSimilarityThreshold float64
	RerankSemanticWeight   float64
	RerankLexicalWeight    float64
	RerankNumericWeight    float64
	RerankPhraseBonus      float64
	MaxSourcesPerAnswer    int

	LLMProvider       string
	LLMModel          string
	LLMTemperature    float64
	LLMMaxTokens      int
	LLMTimeoutSeconds int
	LLMSerialize      bool

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	TokenizerEncode string

	MarketIntelEnabled        bool
	MarketIntelTimeoutSeconds int
	MarketIntelTickers        []string
	MarketIntelYahooURL       string
	MarketIntelStooqURL       string

	WorkerMetricsPort string
}

// Load reads settings from the environment. When CONFIG_FILE names a flat
// YAML map, its keys are used for variables the environment leaves unset.
func Load() (Config, error) {
	src := source{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		file, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		src.file = file
	}

	return Config{
		ServiceName: src.mustEnv("SERVICE_NAME", "sales-tech-rag"),
		APIPort:     src.mustEnv("API_PORT", "8080"),
		LogLevel:    src.mustEnv("LOG_LEVEL", "info"),

		APIRateLimitRPS:   src.mustEnvFloat("API_RATE_LIMIT_RPS", 20),
		APIRateLimitBurst: src.mustEnvInt("API_RATE_LIMIT_BURST", 40),
		APIMaxInFlight:    src.mustEnvInt("API_MAX_IN_FLIGHT", 32),

		PostgresDSN: src.mustEnv("POSTGRES_DSN", ""),

		NATSURL:     src.mustEnv("NATS_URL", ""),
		NATSSubject: src.mustEnv("NATS_SUBJECT", "documents.index"),

		VectorBackend:    strings.ToLower(src.mustEnv("VECTOR_BACKEND", "qdrant")),
		QdrantURL:        src.mustEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantAPIKey:     src.mustEnv("QDRANT_API_KEY", ""),
		QdrantCollection: src.mustEnv("QDRANT_COLLECTION", "knowledge_base"),
		QdrantTimeoutSec: src.mustEnvInt("QDRANT_TIMEOUT_SECONDS", 10),
		ChromemPath:      src.mustEnv("CHROMEM_PATH", ""),
		ChromemCompress:  src.mustEnvBool("CHROMEM_COMPRESS", false),

		OllamaURL:        src.mustEnv("OLLAMA_URL", "http://localhost:11434"),
		OllamaEmbedModel: src.mustEnv("OLLAMA_EMBED_MODEL", "nomic-embed-text"),

		EmbeddingBatchSize:     src.mustEnvInt("EMBEDDING_BATCH_SIZE", 32),
		EmbeddingCacheSize:     src.mustEnvInt("EMBEDDING_CACHE_SIZE", 4096),
		EmbeddingRetryAttempts: src.mustEnvInt("EMBEDDING_RETRY_ATTEMPTS", 3),
		EmbeddingWorkers:       src.mustEnvInt("EMBEDDING_WORKERS", 1),

		ChunkSizeWords:    src.mustEnvInt("CHUNK_SIZE_WORDS", 220),
		ChunkOverlapWords: src.mustEnvInt("CHUNK_OVERLAP_WORDS", 40),

		RAGTopK:                src.mustEnvInt("RAG_TOP_K", 8),
		RAGCandidateK:          src.mustEnvInt("RAG_CANDIDATE_K", 24),
		RAGSimilarityThreshold: src.mustEnvFloat("RAG_SIMILARITY_THRESHOLD", 0.2),
		RerankSemanticWeight:   src.mustEnvFloat("RERANK_SEMANTIC_WEIGHT", 0.6),
		RerankLexicalWeight:    src.mustEnvFloat("RERANK_LEXICAL_WEIGHT", 0.3),
		RerankNumericWeight:    src.mustEnvFloat("RERANK_NUMERIC_WEIGHT", 0.1),
		RerankPhraseBonus:      src.mustEnvFloat("RERANK_PHRASE_BONUS", 0.05),
		MaxSourcesPerAnswer:    src.mustEnvInt("MAX_SOURCES_PER_ANSWER", 3),

		LLMProvider:       strings.ToLower(src.mustEnv("LLM_PROVIDER", "ollama")),
		LLMModel:          src.mustEnv("LLM_MODEL", "qwen2.5:7b-instruct"),
		LLMTemperature:    src.mustEnvFloat("LLM_TEMPERATURE", 0),
		LLMMaxTokens:      src.mustEnvInt("LLM_MAX_TOKENS", 500),
		LLMTimeoutSeconds: src.mustEnvInt("LLM_TIMEOUT_SECONDS", 30),
		LLMSerialize:      src.mustEnvBool("LLM_SERIALIZE", false),

		OpenAIAPIKey:    src.mustEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   src.mustEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:     src.mustEnv("OPENAI_MODEL", "gpt-4o-mini"),
		TokenizerEncode: src.mustEnv("TOKENIZER_ENCODING", "cl100k_base"),

		MarketIntelEnabled:        src.mustEnvBool("MARKET_INTEL_ENABLED", true),
		MarketIntelTimeoutSeconds: src.mustEnvInt("MARKET_INTEL_TIMEOUT_SECONDS", 8),
		MarketIntelTickers:        src.mustEnvList("MARKET_INTEL_TICKERS", []string{"CRWD", "PANW", "FTNT", "CHKP"}),
		MarketIntelYahooURL:       src.mustEnv("MARKET_INTEL_YAHOO_URL", ""),
		MarketIntelStooqURL:       src.mustEnv("MARKET_INTEL_STOOQ_URL", ""),

		WorkerMetricsPort: src.mustEnv("WORKER_METRICS_PORT", "9090"),
	}, nil
}

func readFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var values map[string]any
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		if v == nil {
			continue
		}
		out[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return out, nil
}

type source struct {
	file map[string]string
}

func (s source) lookup(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.file[key]
}

func (s source) mustEnv(key, fallback string) string {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	return v
}

func (s source) mustEnvInt(key string, fallback int) int {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func (s source) mustEnvFloat(key string, fallback float64) float64 {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fallback
	}
	return n
}

func (s source) mustEnvBool(key string, fallback bool) bool {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return parsed
}

func (s source) mustEnvList(key string, fallback []string) []string {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	out := make([]string, 0, 4)
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
