package status

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/codebook/engine/codebook"
	"github.com/compozy/codebook/engine/codebook/retry"
	"github.com/compozy/codebook/engine/codebook/vectordb"
)

type flakyStore struct {
	vectordb.Store
	failures atomic.Int32
	err      error
	calls    atomic.Int32
}

func (f *flakyStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	f.calls.Add(1)
	if f.failures.Load() > 0 {
		f.failures.Add(-1)
		return false, f.err
	}
	return f.Store.CollectionExists(ctx, collection)
}

func fastPolicy() retry.Policy {
	return retry.Policy{Name: "status", Attempts: 5, Backoff: retry.BackoffFixed}
}

func seed(t *testing.T, store vectordb.Store, collection string, n int) {
	t.Helper()
	points := make([]vectordb.Point, 0, n)
	for i := range n {
		points = append(points, vectordb.Point{
			ID:      fmt.Sprintf("p-%d", i),
			Vector:  []float32{1, 0, 0},
			Payload: map[string]any{"text": "t"},
		})
	}
	require.NoError(t, store.Upsert(t.Context(), collection, points))
}

func TestProbe_Status(t *testing.T) {
	t.Run("Should walk NOT_EXISTS, EMPTY, UNDER_CHUNKED and INDEXED", func(t *testing.T) {
		ctx := t.Context()
		store := vectordb.NewMemoryStore(3)
		probe, err := New(store, 10, fastPolicy())
		require.NoError(t, err)

		status, err := probe.Status(ctx, "springfield_il")
		require.NoError(t, err)
		assert.Equal(t, codebook.StatusNotExists, status)

		require.NoError(t, store.CreateCollection(ctx, "springfield_il", vectordb.CollectionSpec{Dimension: 3}))
		status, err = probe.Status(ctx, "springfield_il")
		require.NoError(t, err)
		assert.Equal(t, codebook.StatusEmpty, status)

		seed(t, store, "springfield_il", 5)
		status, err = probe.Status(ctx, "springfield_il")
		require.NoError(t, err)
		assert.Equal(t, codebook.StatusUnderChunked, status)

		require.NoError(t, store.Delete(ctx, "springfield_il", vectordb.Filter{All: true}))
		seed(t, store, "springfield_il", 10)
		status, err = probe.Status(ctx, "springfield_il")
		require.NoError(t, err)
		assert.Equal(t, codebook.StatusIndexed, status)
	})

	t.Run("Should retry transient errors until the store answers", func(t *testing.T) {
		store := &flakyStore{Store: vectordb.NewMemoryStore(3), err: &vectordb.TransientError{Op: "exists", Err: errors.New("timeout")}}
		store.failures.Store(3)
		probe, err := New(store, 10, fastPolicy())
		require.NoError(t, err)
		status, err := probe.Status(t.Context(), "springfield_il")
		require.NoError(t, err)
		assert.Equal(t, codebook.StatusNotExists, status)
		assert.Equal(t, int32(4), store.calls.Load())
	})

	t.Run("Should return the last error after exhausting attempts", func(t *testing.T) {
		store := &flakyStore{Store: vectordb.NewMemoryStore(3), err: &vectordb.TransientError{Op: "exists", Err: errors.New("timeout")}}
		store.failures.Store(100)
		probe, err := New(store, 10, fastPolicy())
		require.NoError(t, err)
		_, err = probe.Status(t.Context(), "springfield_il")
		require.Error(t, err)
		assert.True(t, vectordb.IsTransient(err))
		assert.Equal(t, int32(5), store.calls.Load())
	})

	t.Run("Should not retry permanent errors", func(t *testing.T) {
		store := &flakyStore{Store: vectordb.NewMemoryStore(3), err: errors.New("unauthorized")}
		store.failures.Store(100)
		probe, err := New(store, 10, fastPolicy())
		require.NoError(t, err)
		_, err = probe.Status(t.Context(), "springfield_il")
		require.Error(t, err)
		assert.Equal(t, int32(1), store.calls.Load())
	})

	t.Run("Should default the threshold and require a store", func(t *testing.T) {
		probe, err := New(vectordb.NewMemoryStore(3), 0, fastPolicy())
		require.NoError(t, err)
		assert.Equal(t, DefaultThreshold, probe.Threshold())
		_, err = New(nil, 10, fastPolicy())
		assert.Error(t, err)
	})
}
