package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/codebook/pkg/config"
)

func TestModelsFromConfig(t *testing.T) {
	t.Run("Should register every provider with a key", func(t *testing.T) {
		cfg := config.Default()
		cfg.OpenAI.APIKey = "sk-test"
		cfg.Anthropic.APIKey = "sk-ant-test"

		models, err := ModelsFromConfig(cfg)
		require.NoError(t, err)
		assert.Equal(t, []string{ModelAnthropic, ModelOpenAI}, models.Names())
	})

	t.Run("Should skip providers without a key", func(t *testing.T) {
		cfg := config.Default()
		cfg.OpenAI.APIKey = "sk-test"
		cfg.Anthropic.APIKey = ""

		models, err := ModelsFromConfig(cfg)
		require.NoError(t, err)
		assert.Equal(t, []string{ModelOpenAI}, models.Names())
		_, err = models.Get(ModelAnthropic)
		assert.ErrorContains(t, err, "available: [openai]")
	})

	t.Run("Should fail when no provider is configured", func(t *testing.T) {
		cfg := config.Default()
		cfg.OpenAI.APIKey = ""
		cfg.Anthropic.APIKey = ""

		_, err := ModelsFromConfig(cfg)
		assert.Error(t, err)
	})
}

func TestSettingsFromConfig(t *testing.T) {
	t.Run("Should take model, temperature and permitted-use depth from config", func(t *testing.T) {
		cfg := config.Default()
		settings := SettingsFromConfig(cfg, collection)
		assert.Equal(t, collection, settings.Collection)
		assert.Equal(t, cfg.Query.DefaultModel, settings.DefaultModel)
		assert.Equal(t, cfg.Retrieval.PermittedUseK, settings.PermittedUseK)
		assert.Equal(t, cfg.Retry.Query.Attempts, settings.Policy.Attempts)
		assert.NotNil(t, settings.Policy.Retryable)
	})
}
