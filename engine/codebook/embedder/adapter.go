package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/compozy/codebook/pkg/logger"
)

// Embedder wraps a langchaingo embedder and adds an optional cache of query
// embeddings.
type Embedder struct {
	model     string
	dimension int
	batchSize int
	impl      embeddings.Embedder
	cacheMu   sync.Mutex
	cache     *lru.Cache[string, []float32]
}

// New builds an OpenAI-backed embedder. A missing API key is a configuration
// error reported here rather than on the first request.
func New(cfg *Config) (*Embedder, error) {
	if cfg == nil {
		return nil, errors.New("embedder config is required")
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("embedder %q: %w", cfg.Model, errMissingAPIKey)
	}
	openaiOpts := []openai.Option{
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		openaiOpts = append(openaiOpts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(openaiOpts...)
	if err != nil {
		return nil, fmt.Errorf("embedder %q: failed to initialize openai client: %w", cfg.Model, err)
	}
	impl, err := embeddings.NewEmbedder(
		client,
		embeddings.WithBatchSize(cfg.BatchSize),
		embeddings.WithStripNewLines(cfg.StripNewLines),
	)
	if err != nil {
		return nil, fmt.Errorf("embedder %q: failed to construct openai embedder: %w", cfg.Model, err)
	}
	return build(cfg, impl)
}

// Wrap constructs an embedder around an existing langchaingo implementation.
func Wrap(cfg *Config, impl embeddings.Embedder) (*Embedder, error) {
	if cfg == nil {
		return nil, errors.New("embedder config is required")
	}
	if impl == nil {
		return nil, fmt.Errorf("embedder %q: implementation is required", cfg.Model)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return build(cfg, impl)
}

func build(cfg *Config, impl embeddings.Embedder) (*Embedder, error) {
	e := &Embedder{
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: cfg.BatchSize,
		impl:      impl,
	}
	if cfg.CacheSize > 0 {
		if err := e.EnableCache(cfg.CacheSize); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Embedder) Model() string {
	return e.model
}

func (e *Embedder) Dimension() int {
	return e.dimension
}

func (e *Embedder) BatchSize() int {
	return e.batchSize
}

// EnableCache initializes an LRU cache for query embeddings.
func (e *Embedder) EnableCache(size int) error {
	if size <= 0 {
		return fmt.Errorf("embedder %q: cache size must be greater than zero", e.model)
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return fmt.Errorf("embedder %q: init cache: %w", e.model, err)
	}
	e.cacheMu.Lock()
	e.cache = cache
	e.cacheMu.Unlock()
	return nil
}

// EmbedDocuments embeds texts in one provider call. Document embeddings are
// never cached.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := e.impl.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, e.withContext(err)
	}
	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if vector, ok := e.lookupCache(key); ok {
		logger.FromContext(ctx).Debug("query embedding cache hit", "model", e.model)
		return vector, nil
	}
	vector, err := e.impl.EmbedQuery(ctx, text)
	if err != nil {
		return nil, e.withContext(err)
	}
	if len(vector) != e.dimension {
		return nil, e.withContext(fmt.Errorf("query vector has dimension %d, expected %d", len(vector), e.dimension))
	}
	e.storeCache(key, vector)
	return cloneVector(vector), nil
}

func (e *Embedder) lookupCache(key string) ([]float32, bool) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	if e.cache == nil {
		return nil, false
	}
	value, ok := e.cache.Get(key)
	if !ok {
		return nil, false
	}
	return cloneVector(value), true
}

func (e *Embedder) storeCache(key string, vector []float32) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	if e.cache == nil || len(vector) == 0 {
		return
	}
	e.cache.Add(key, cloneVector(vector))
}

func (e *Embedder) withContext(err error) error {
	return fmt.Errorf("embedder %q: %w", e.model, err)
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func cloneVector(src []float32) []float32 {
	if len(src) == 0 {
		return nil
	}
	dst := make([]float32, len(src))
	copy(dst, src)
	return dst
}
