package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/codebook/pkg/config"
	"github.com/compozy/codebook/pkg/logger"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	return logger.ContextWithLogger(t.Context(), logger.NewForTests())
}

func TestService(t *testing.T) {
	t.Run("Should expose recorded metrics in Prometheus format", func(t *testing.T) {
		ctx := testContext(t)
		svc, err := New(ctx, config.MetricsConfig{Enabled: true})
		require.NoError(t, err)
		t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
		require.True(t, svc.Enabled())

		counter, err := svc.Meter().Int64Counter("codebook_test_events")
		require.NoError(t, err)
		counter.Add(ctx, 3)

		rec := httptest.NewRecorder()
		svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "codebook_test_events")
	})

	t.Run("Should use a no-op meter when disabled", func(t *testing.T) {
		ctx := testContext(t)
		svc, err := New(ctx, config.MetricsConfig{Enabled: false, Addr: ":0"})
		require.NoError(t, err)
		assert.False(t, svc.Enabled())
		assert.NotNil(t, svc.Meter())
		require.NoError(t, svc.Start(ctx))

		rec := httptest.NewRecorder()
		svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.NoError(t, svc.Shutdown(ctx))
	})

	t.Run("Should serve and stop the metrics endpoint", func(t *testing.T) {
		ctx := testContext(t)
		svc, err := New(ctx, config.MetricsConfig{Enabled: true, Addr: "127.0.0.1:0"})
		require.NoError(t, err)
		require.NoError(t, svc.Start(ctx))
		assert.NoError(t, svc.Shutdown(ctx))
	})
}
