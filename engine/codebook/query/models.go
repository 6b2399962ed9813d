package query

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/compozy/codebook/pkg/config"
)

const (
	ModelOpenAI    = "openai"
	ModelAnthropic = "anthropic"
)

// Models maps a model name to its client.
type Models map[string]llms.Model

// ModelsFromConfig registers every provider that has an API key.
func ModelsFromConfig(cfg *config.Config) (Models, error) {
	models := Models{}
	if key := cfg.OpenAI.APIKey.Value(); key != "" {
		opts := []openai.Option{openai.WithModel(cfg.OpenAI.Model), openai.WithToken(key)}
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai model: %w", err)
		}
		models[ModelOpenAI] = model
	}
	if key := cfg.Anthropic.APIKey.Value(); key != "" {
		model, err := anthropic.New(anthropic.WithModel(cfg.Anthropic.Model), anthropic.WithToken(key))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize anthropic model: %w", err)
		}
		models[ModelAnthropic] = model
	}
	if len(models) == 0 {
		return nil, errors.New("no model configured: set OPENAI_API_KEY or ANTHROPIC_API_KEY")
	}
	return models, nil
}

func (m Models) Get(name string) (llms.Model, error) {
	model, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("model %q is not configured (available: %v)", name, m.Names())
	}
	return model, nil
}

func (m Models) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
