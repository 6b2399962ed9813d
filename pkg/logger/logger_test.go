package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext(t *testing.T) {
	t.Run("Should return logger from context when present", func(t *testing.T) {
		expectedLogger := NewLogger(TestConfig())
		ctx := ContextWithLogger(t.Context(), expectedLogger)
		actualLogger := FromContext(ctx)
		require.NotNil(t, actualLogger)
		assert.Equal(t, expectedLogger, actualLogger)
	})

	t.Run("Should return default logger when no logger in context", func(t *testing.T) {
		l := FromContext(t.Context())
		require.NotNil(t, l)
	})

	t.Run("Should return default logger when wrong type in context", func(t *testing.T) {
		ctx := context.WithValue(t.Context(), LoggerCtxKey, "not a logger")
		require.NotNil(t, FromContext(ctx))
	})

	t.Run("Should return default logger when nil logger in context", func(t *testing.T) {
		ctx := context.WithValue(t.Context(), LoggerCtxKey, (Logger)(nil))
		require.NotNil(t, FromContext(ctx))
	})
}

func TestLogLevel_ToCharmlogLevel(t *testing.T) {
	t.Run("Should convert all log levels to charm log levels correctly", func(t *testing.T) {
		testCases := []struct {
			level    LogLevel
			expected int
		}{
			{DebugLevel, -4},
			{InfoLevel, 0},
			{WarnLevel, 4},
			{ErrorLevel, 8},
			{DisabledLevel, 1000},
			{LogLevel("unknown"), 0},
		}
		for _, tc := range testCases {
			assert.Equal(t, tc.expected, int(tc.level.ToCharmlogLevel()), "level %s", tc.level)
		}
	})
}

func TestNewLogger(t *testing.T) {
	t.Run("Should write JSON lines with key values", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(&Config{Level: DebugLevel, Output: &buf, JSON: true})
		l.With("collection", "fort_wayne_in").Info("ingested", "chunks", 12)
		out := buf.String()
		assert.Contains(t, out, `"msg":"ingested"`)
		assert.Contains(t, out, `"collection":"fort_wayne_in"`)
		assert.Contains(t, out, `"chunks":12`)
	})

	t.Run("Should suppress messages below the configured level", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(&Config{Level: WarnLevel, Output: &buf})
		l.Info("hidden")
		l.Warn("shown")
		assert.False(t, strings.Contains(buf.String(), "hidden"))
		assert.True(t, strings.Contains(buf.String(), "shown"))
	})
}

func TestGetLoggerConfig(t *testing.T) {
	t.Run("Should read logging flags from the command", func(t *testing.T) {
		cmd := &cobra.Command{Use: "test"}
		cmd.Flags().String("log-level", "info", "")
		cmd.Flags().Bool("log-json", false, "")
		cmd.Flags().Bool("log-source", false, "")
		require.NoError(t, cmd.Flags().Set("log-level", "debug"))
		require.NoError(t, cmd.Flags().Set("log-json", "true"))
		level, asJSON, source, err := GetLoggerConfig(cmd)
		require.NoError(t, err)
		assert.Equal(t, "debug", level)
		assert.True(t, asJSON)
		assert.False(t, source)
	})

	t.Run("Should read persistent flags declared on a parent command", func(t *testing.T) {
		root := &cobra.Command{Use: "root"}
		root.PersistentFlags().String("log-level", "info", "")
		root.PersistentFlags().Bool("log-json", false, "")
		root.PersistentFlags().Bool("log-source", false, "")
		require.NoError(t, root.PersistentFlags().Set("log-source", "true"))
		child := &cobra.Command{Use: "child"}
		root.AddCommand(child)
		for _, cmd := range []*cobra.Command{root, child} {
			level, asJSON, source, err := GetLoggerConfig(cmd)
			require.NoError(t, err)
			assert.Equal(t, "info", level)
			assert.False(t, asJSON)
			assert.True(t, source)
		}
	})

	t.Run("Should fail when a logging flag is not defined", func(t *testing.T) {
		_, _, _, err := GetLoggerConfig(&cobra.Command{Use: "bare"})
		assert.ErrorContains(t, err, "log-level")
	})
}
