package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("Should load defaults when no sources are given", func(t *testing.T) {
		cfg, err := Load(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 8000, cfg.Chunking.Size)
		assert.Equal(t, 500, cfg.Chunking.Overlap)
		assert.Equal(t, "å—", cfg.Chunking.Separator)
		assert.Equal(t, 32, cfg.Embedding.BatchSize)
		assert.Equal(t, 50, cfg.Ingest.UpsertBatchSize)
		assert.Equal(t, 10, cfg.Ingest.UnderChunkedThreshold)
		assert.Equal(t, 1536, cfg.Vector.Dimension)
		assert.Equal(t, uint64(5), cfg.Retry.Status.Attempts)
		assert.Equal(t, 15*time.Second, cfg.Retry.Status.Base)
	})

	t.Run("Should apply YAML over defaults", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "codebook.yaml")
		content := "retrieval:\n  top_k: 3\n  section_limit: 5\nretry:\n  query:\n    base: 2s\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		loader := NewLoader()
		cfg, err := loader.Load(t.Context(), NewYAMLProvider(path))
		require.NoError(t, err)
		assert.Equal(t, 3, cfg.Retrieval.TopK)
		assert.Equal(t, 5, cfg.Retrieval.SectionLimit)
		assert.Equal(t, 2*time.Second, cfg.Retry.Query.Base)
		assert.Equal(t, SourceYAML, loader.SourceOf("retrieval.top_k"))
		assert.Equal(t, SourceDefault, loader.SourceOf("chunking.size"))
	})

	t.Run("Should let environment override YAML and CLI override environment", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "codebook.yaml")
		require.NoError(t, os.WriteFile(path, []byte("retrieval:\n  top_k: 3\n"), 0o600))
		t.Setenv("RETRIEVAL_TOP_K", "4")
		t.Setenv("OPENAI_API_KEY", "sk-test")
		cfg, err := Load(t.Context(), NewYAMLProvider(path))
		require.NoError(t, err)
		assert.Equal(t, 4, cfg.Retrieval.TopK)
		assert.Equal(t, "sk-test", cfg.OpenAI.APIKey.Value())

		cfg, err = Load(t.Context(), NewYAMLProvider(path), NewCLIProvider(map[string]any{"retrieval.top_k": 7}))
		require.NoError(t, err)
		assert.Equal(t, 7, cfg.Retrieval.TopK)
	})

	t.Run("Should reject overlap not smaller than chunk size", func(t *testing.T) {
		_, err := Load(t.Context(), NewCLIProvider(map[string]any{
			"chunking.size":    100,
			"chunking.overlap": 100,
		}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Overlap")
	})

	t.Run("Should require a DSN for the pgvector provider", func(t *testing.T) {
		_, err := Load(t.Context(), NewCLIProvider(map[string]any{"vector.provider": "pgvector"}))
		require.Error(t, err)
	})

	t.Run("Should ignore a missing YAML file", func(t *testing.T) {
		cfg, err := Load(t.Context(), NewYAMLProvider(filepath.Join(t.TempDir(), "missing.yaml")))
		require.NoError(t, err)
		assert.Equal(t, 5, cfg.Retrieval.TopK)
	})
}

func TestSensitiveString(t *testing.T) {
	t.Run("Should redact the secret in strings and JSON", func(t *testing.T) {
		s := SensitiveString("sk-secret")
		assert.Equal(t, "[REDACTED]", s.String())
		data, err := json.Marshal(struct {
			Key SensitiveString `json:"key"`
		}{Key: s})
		require.NoError(t, err)
		assert.JSONEq(t, `{"key":"[REDACTED]"}`, string(data))
		assert.Equal(t, "sk-secret", s.Value())
	})
}

func TestLoadEnvFile(t *testing.T) {
	t.Run("Should load variables without overriding existing ones", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, ".env")
		require.NoError(t, os.WriteFile(path, []byte("CODEBOOK_TEST_A=from-file\nCODEBOOK_TEST_B=from-file\n"), 0o600))
		t.Setenv("CODEBOOK_TEST_B", "from-env")
		t.Cleanup(func() { _ = os.Unsetenv("CODEBOOK_TEST_A") })
		require.NoError(t, LoadEnvFile(path))
		assert.Equal(t, "from-file", os.Getenv("CODEBOOK_TEST_A"))
		assert.Equal(t, "from-env", os.Getenv("CODEBOOK_TEST_B"))
	})

	t.Run("Should ignore a missing file", func(t *testing.T) {
		assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), ".env")))
	})
}

func TestFromContext(t *testing.T) {
	t.Run("Should return stored configuration or defaults", func(t *testing.T) {
		cfg := Default()
		cfg.Retrieval.TopK = 9
		ctx := ContextWithConfig(t.Context(), cfg)
		assert.Equal(t, 9, FromContext(ctx).Retrieval.TopK)
		assert.Equal(t, 5, FromContext(t.Context()).Retrieval.TopK)
	})
}
