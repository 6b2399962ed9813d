package embedder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/compozy/codebook/pkg/config"
)

// Config describes the embedding provider.
type Config struct {
	Model         string
	APIKey        string
	BaseURL       string
	Dimension     int
	BatchSize     int
	StripNewLines bool
	CacheSize     int
}

var (
	errMissingModel     = errors.New("embedder model is required")
	errMissingAPIKey    = errors.New("embedder api key is required")
	errInvalidDimension = errors.New("embedder dimension must be greater than zero")
	errInvalidBatchSize = errors.New("embedder batch size must be greater than zero")
)

// ConfigFromApp maps the application configuration onto the OpenAI embedder.
func ConfigFromApp(cfg *config.Config) *Config {
	return &Config{
		Model:         cfg.OpenAI.EmbeddingModel,
		APIKey:        cfg.OpenAI.APIKey.Value(),
		BaseURL:       cfg.OpenAI.BaseURL,
		Dimension:     cfg.Vector.Dimension,
		BatchSize:     cfg.Embedding.BatchSize,
		StripNewLines: cfg.Embedding.StripNewLines,
		CacheSize:     cfg.Embedding.CacheSize,
	}
}

func validateConfig(cfg *Config) error {
	if strings.TrimSpace(cfg.Model) == "" {
		return errMissingModel
	}
	if cfg.Dimension <= 0 {
		return fmt.Errorf("embedder %q: %w", cfg.Model, errInvalidDimension)
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("embedder %q: %w", cfg.Model, errInvalidBatchSize)
	}
	return nil
}
