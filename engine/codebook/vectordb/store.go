package vectordb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/compozy/codebook/pkg/config"
)

var (
	errMissingID        = errors.New("vector_db id is required")
	errMissingProvider  = errors.New("vector_db provider is required")
	errMissingURL       = errors.New("vector_db url is required")
	errMissingDSN       = errors.New("vector_db dsn is required")
	errMissingPath      = errors.New("vector_db path is required")
	errInvalidDimension = errors.New("vector_db dimension must be greater than zero")
)

const (
	defaultTopK        = 5
	defaultScrollLimit = 100
)

// New instantiates a vector store backed by the requested provider.
func New(ctx context.Context, cfg *Config) (Store, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return instantiateStore(ctx, cfg)
}

// ConfigFromApp maps the application configuration onto a store Config.
func ConfigFromApp(cfg *config.Config) *Config {
	v := cfg.Vector
	return &Config{
		ID:        "codebook",
		Provider:  Provider(v.Provider),
		URL:       v.URL,
		APIKey:    v.APIKey.Value(),
		DSN:       v.DSN.Value(),
		Path:      v.Path,
		Dimension: v.Dimension,
		Metric:    v.Metric,
		Timeout:   v.Timeout,
	}
}

func instantiateStore(ctx context.Context, cfg *Config) (Store, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Provider {
	case ProviderQdrant:
		store, err = newQdrantStore(ctx, cfg)
	case ProviderPGVector:
		store, err = newPGStore(ctx, cfg)
	case ProviderLocal, ProviderMemory:
		store, err = newLocalStore(cfg)
	default:
		return nil, fmt.Errorf("vector_db %q: provider %q is not supported", cfg.ID, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return instrument(store, cfg.Provider), nil
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("vector_db config is required")
	}
	if strings.TrimSpace(cfg.ID) == "" {
		return errMissingID
	}
	if strings.TrimSpace(string(cfg.Provider)) == "" {
		return fmt.Errorf("vector_db %q: %w", cfg.ID, errMissingProvider)
	}
	cfg.URL = strings.TrimSpace(cfg.URL)
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	cfg.Path = strings.TrimSpace(cfg.Path)
	switch cfg.Provider {
	case ProviderQdrant:
		if cfg.URL == "" {
			return fmt.Errorf("vector_db %q: %w", cfg.ID, errMissingURL)
		}
	case ProviderPGVector:
		if cfg.DSN == "" {
			return fmt.Errorf("vector_db %q: %w", cfg.ID, errMissingDSN)
		}
	case ProviderLocal:
		if cfg.Path == "" {
			return fmt.Errorf("vector_db %q: %w", cfg.ID, errMissingPath)
		}
	}
	if cfg.Dimension <= 0 {
		return fmt.Errorf("vector_db %q: %w", cfg.ID, errInvalidDimension)
	}
	return nil
}

func normalizeMetric(metric string) string {
	switch strings.ToLower(strings.TrimSpace(metric)) {
	case "euclid", "euclidean", "l2":
		return "euclid"
	case "dot", "dotproduct", "ip":
		return "dot"
	default:
		return "cosine"
	}
}
