package config

import (
	"time"
)

// Config is the root configuration for the codebook services.
type Config struct {
	Vector    VectorConfig    `koanf:"vector"    validate:"required"`
	OpenAI    OpenAIConfig    `koanf:"openai"`
	Anthropic AnthropicConfig `koanf:"anthropic"`
	Embedding EmbeddingConfig `koanf:"embedding" validate:"required"`
	Chunking  ChunkingConfig  `koanf:"chunking"  validate:"required"`
	Ingest    IngestConfig    `koanf:"ingest"    validate:"required"`
	Retrieval RetrievalConfig `koanf:"retrieval" validate:"required"`
	Query     QueryConfig     `koanf:"query"`
	Retry     RetryConfig     `koanf:"retry"     validate:"required"`
	Redis     RedisConfig     `koanf:"redis"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

// VectorConfig selects and configures the vector store backend.
type VectorConfig struct {
	Provider  string          `koanf:"provider"  env:"VECTOR_PROVIDER"  validate:"oneof=qdrant pgvector local memory"`
	URL       string          `koanf:"url"       env:"QDRANT_URL"       validate:"required_if=Provider qdrant"`
	APIKey    SensitiveString `koanf:"api_key"   env:"QDRANT_API_KEY"                                           sensitive:"true"`
	DSN       SensitiveString `koanf:"dsn"       env:"PGVECTOR_DSN"     validate:"required_if=Provider pgvector" sensitive:"true"`
	Path      string          `koanf:"path"      env:"VECTOR_PATH"      validate:"required_if=Provider local"`
	Dimension int             `koanf:"dimension" env:"VECTOR_DIMENSION" validate:"min=1"`
	Metric    string          `koanf:"metric"    env:"VECTOR_METRIC"    validate:"oneof=cosine dot euclid"`
	Timeout   time.Duration   `koanf:"timeout"   env:"VECTOR_TIMEOUT"`
}

// OpenAIConfig contains OpenAI API configuration.
type OpenAIConfig struct {
	APIKey         SensitiveString `koanf:"api_key"         env:"OPENAI_API_KEY"         sensitive:"true"`
	BaseURL        string          `koanf:"base_url"        env:"OPENAI_BASE_URL"`
	Model          string          `koanf:"model"           env:"OPENAI_MODEL"`
	EmbeddingModel string          `koanf:"embedding_model" env:"OPENAI_EMBEDDING_MODEL"`
}

// AnthropicConfig contains Anthropic API configuration.
type AnthropicConfig struct {
	APIKey SensitiveString `koanf:"api_key" env:"ANTHROPIC_API_KEY" sensitive:"true"`
	Model  string          `koanf:"model"   env:"ANTHROPIC_MODEL"`
}

type EmbeddingConfig struct {
	BatchSize     int  `koanf:"batch_size"      env:"EMBEDDING_BATCH_SIZE" validate:"min=1"`
	CacheSize     int  `koanf:"cache_size"      env:"EMBEDDING_CACHE_SIZE" validate:"min=0"`
	StripNewLines bool `koanf:"strip_new_lines" env:"EMBEDDING_STRIP_NEW_LINES"`
}

type ChunkingConfig struct {
	Size      int    `koanf:"size"      env:"CHUNK_SIZE"      validate:"min=1"`
	Overlap   int    `koanf:"overlap"   env:"CHUNK_OVERLAP"   validate:"min=0,ltfield=Size"`
	Separator string `koanf:"separator" env:"CHUNK_SEPARATOR"`
}

type IngestConfig struct {
	UpsertBatchSize       int           `koanf:"upsert_batch_size"       env:"INGEST_UPSERT_BATCH_SIZE"       validate:"min=1"`
	UnderChunkedThreshold int           `koanf:"under_chunked_threshold" env:"INGEST_UNDER_CHUNKED_THRESHOLD" validate:"min=1"`
	MaxConcurrency        int           `koanf:"max_concurrency"         env:"INGEST_MAX_CONCURRENCY"         validate:"min=0"`
	LockTTL               time.Duration `koanf:"lock_ttl"                env:"INGEST_LOCK_TTL"`
}

type RetrievalConfig struct {
	Strategy       string `koanf:"strategy"         env:"RETRIEVAL_STRATEGY"         validate:"oneof=section_expansion similarity"`
	TopK           int    `koanf:"top_k"            env:"RETRIEVAL_TOP_K"            validate:"min=1"`
	PermittedUseK  int    `koanf:"permitted_use_k"  env:"RETRIEVAL_PERMITTED_USE_K"  validate:"min=1"`
	SectionLimit   int    `koanf:"section_limit"    env:"RETRIEVAL_SECTION_LIMIT"    validate:"min=1"`
	ScrollPageSize int    `koanf:"scroll_page_size" env:"RETRIEVAL_SCROLL_PAGE_SIZE" validate:"min=1"`
}

type QueryConfig struct {
	DefaultModel string  `koanf:"default_model" env:"QUERY_DEFAULT_MODEL" validate:"oneof=openai anthropic"`
	Temperature  float64 `koanf:"temperature"   env:"QUERY_TEMPERATURE"   validate:"min=0,max=2"`
}

// RetryConfig holds one policy per retried call site.
type RetryConfig struct {
	Upsert      RetryPolicyConfig `koanf:"upsert"`
	Status      RetryPolicyConfig `koanf:"status"`
	Maintenance RetryPolicyConfig `koanf:"maintenance"`
	Query       RetryPolicyConfig `koanf:"query"`
}

type RetryPolicyConfig struct {
	Attempts uint64        `koanf:"attempts" validate:"min=1"`
	Backoff  string        `koanf:"backoff"  validate:"oneof=fixed exponential"`
	Base     time.Duration `koanf:"base"`
	Max      time.Duration `koanf:"max"`
}

// RedisConfig enables the distributed ingestion lock when URL is set.
type RedisConfig struct {
	URL    string `koanf:"url"    env:"REDIS_URL"`
	Prefix string `koanf:"prefix" env:"REDIS_LOCK_PREFIX"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled" env:"METRICS_ENABLED"`
	Addr    string `koanf:"addr"    env:"METRICS_ADDR"`
}

// Default returns the configuration used before any source is applied.
func Default() *Config {
	return &Config{
		Vector: VectorConfig{
			Provider:  "qdrant",
			URL:       "http://localhost:6333",
			Dimension: 1536,
			Metric:    "cosine",
			Timeout:   30 * time.Second,
		},
		OpenAI: OpenAIConfig{
			Model:          "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
		},
		Anthropic: AnthropicConfig{
			Model: "claude-3-7-sonnet-latest",
		},
		Embedding: EmbeddingConfig{
			BatchSize:     32,
			CacheSize:     512,
			StripNewLines: false,
		},
		Chunking: ChunkingConfig{
			Size:      8000,
			Overlap:   500,
			Separator: "å—",
		},
		Ingest: IngestConfig{
			UpsertBatchSize:       50,
			UnderChunkedThreshold: 10,
			MaxConcurrency:        0,
			LockTTL:               30 * time.Minute,
		},
		Retrieval: RetrievalConfig{
			Strategy:       "section_expansion",
			TopK:           5,
			PermittedUseK:  3,
			SectionLimit:   10,
			ScrollPageSize: 100,
		},
		Query: QueryConfig{
			DefaultModel: "openai",
			Temperature:  0,
		},
		Retry: RetryConfig{
			Upsert:      RetryPolicyConfig{Attempts: 5, Backoff: "exponential", Base: time.Second, Max: 10 * time.Second},
			Status:      RetryPolicyConfig{Attempts: 5, Backoff: "fixed", Base: 15 * time.Second},
			Maintenance: RetryPolicyConfig{Attempts: 5, Backoff: "fixed", Base: 15 * time.Second},
			Query:       RetryPolicyConfig{Attempts: 3, Backoff: "fixed", Base: 60 * time.Second},
		},
		Redis: RedisConfig{
			Prefix: "codebook:lock:",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9464",
		},
	}
}
