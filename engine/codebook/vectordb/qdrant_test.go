package vectordb

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestQdrant(t *testing.T, handler http.HandlerFunc) Store {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	store, err := New(t.Context(), &Config{
		ID:        "qdrant",
		Provider:  ProviderQdrant,
		URL:       srv.URL,
		APIKey:    "secret",
		Dimension: 2,
	})
	require.NoError(t, err)
	return store
}

func TestQdrantStore_Collections(t *testing.T) {
	t.Run("Should report a missing collection as absent", func(t *testing.T) {
		store := newTestQdrant(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "secret", r.Header.Get("api-key"))
			writeJSON(w, http.StatusNotFound, map[string]any{
				"status": map[string]any{"error": "Collection `c` doesn't exist!"},
			})
		})
		ok, err := store.CollectionExists(t.Context(), "c")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Should create a collection with size and distance", func(t *testing.T) {
		var body map[string]any
		store := newTestQdrant(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPut, r.Method)
			assert.Equal(t, "/collections/fort_wayne_in", r.URL.Path)
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			writeJSON(w, http.StatusOK, map[string]any{"result": true, "status": "ok"})
		})
		require.NoError(t, store.CreateCollection(t.Context(), "fort_wayne_in", CollectionSpec{Dimension: 1536}))
		vectors := body["vectors"].(map[string]any)
		assert.Equal(t, float64(1536), vectors["size"])
		assert.Equal(t, "Cosine", vectors["distance"])
	})

	t.Run("Should map conflicts to ErrCollectionExists", func(t *testing.T) {
		store := newTestQdrant(t, func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"status": map[string]any{"error": "Collection `c` already exists!"},
			})
		})
		err := store.CreateCollection(t.Context(), "c", CollectionSpec{})
		assert.ErrorIs(t, err, ErrCollectionExists)
	})

	t.Run("Should decode the exact point count", func(t *testing.T) {
		store := newTestQdrant(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/collections/c/points/count", r.URL.Path)
			writeJSON(w, http.StatusOK, map[string]any{"result": map[string]any{"count": 7}})
		})
		n, err := store.Count(t.Context(), "c")
		require.NoError(t, err)
		assert.Equal(t, 7, n)
	})

	t.Run("Should list collection names", func(t *testing.T) {
		store := newTestQdrant(t, func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"result": map[string]any{
				"collections": []any{map[string]any{"name": "a_in"}, map[string]any{"name": "b_mi"}},
			}})
		})
		names, err := store.ListCollections(t.Context())
		require.NoError(t, err)
		assert.Equal(t, []string{"a_in", "b_mi"}, names)
	})
}

func TestQdrantStore_Points(t *testing.T) {
	t.Run("Should upsert points and wait for completion", func(t *testing.T) {
		var body struct {
			Points []qdrantPoint `json:"points"`
		}
		store := newTestQdrant(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/collections/c/points", r.URL.Path)
			assert.Equal(t, "true", r.URL.Query().Get("wait"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			writeJSON(w, http.StatusOK, map[string]any{"result": map[string]any{"status": "completed"}})
		})
		err := store.Upsert(t.Context(), "c", []Point{{ID: "a", Vector: []float32{1, 0}, Payload: payload("1", "2", "x")}})
		require.NoError(t, err)
		require.Len(t, body.Points, 1)
		assert.Equal(t, "x", body.Points[0].Payload["text"])
	})

	t.Run("Should send must filters on search", func(t *testing.T) {
		var body map[string]any
		store := newTestQdrant(t, func(w http.ResponseWriter, r *http.Request) {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			writeJSON(w, http.StatusOK, map[string]any{"result": []any{
				map[string]any{"id": "a", "score": 0.9, "payload": payload("1", "2", "x")},
			}})
		})
		matches, err := store.Search(t.Context(), "c", []float32{1, 0}, SearchOptions{
			TopK:    3,
			Filters: map[string]string{"chapterNumber": "1"},
		})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "a", matches[0].ID)
		assert.Equal(t, float64(3), body["limit"])
		filter := body["filter"].(map[string]any)
		assert.Len(t, filter["must"], 1)
	})

	t.Run("Should return the next page offset on scroll", func(t *testing.T) {
		store := newTestQdrant(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/collections/c/points/scroll", r.URL.Path)
			writeJSON(w, http.StatusOK, map[string]any{"result": map[string]any{
				"points":           []any{map[string]any{"id": "a", "payload": payload("1", "2", "x")}},
				"next_page_offset": "b",
			}})
		})
		page, err := store.Scroll(t.Context(), "c", ScrollRequest{Limit: 1})
		require.NoError(t, err)
		require.Len(t, page.Points, 1)
		assert.Equal(t, "b", page.NextOffset)
	})

	t.Run("Should delete every point with an empty must filter", func(t *testing.T) {
		var body map[string]any
		store := newTestQdrant(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/collections/c/points/delete", r.URL.Path)
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			writeJSON(w, http.StatusOK, map[string]any{"result": map[string]any{"status": "completed"}})
		})
		require.NoError(t, store.Delete(t.Context(), "c", Filter{All: true}))
		assert.Contains(t, body, "filter")
	})
}

func TestQdrantStore_Errors(t *testing.T) {
	t.Run("Should classify server errors as transient", func(t *testing.T) {
		var calls atomic.Int32
		store := newTestQdrant(t, func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": map[string]any{"error": "overloaded"}})
		})
		_, err := store.Count(t.Context(), "c")
		require.Error(t, err)
		assert.True(t, IsTransient(err))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("Should classify refused connections as transient", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		store, err := New(t.Context(), &Config{ID: "q", Provider: ProviderQdrant, URL: url, Dimension: 2})
		require.NoError(t, err)
		_, err = store.Count(t.Context(), "c")
		require.Error(t, err)
		assert.True(t, IsTransient(err))
	})

	t.Run("Should keep client errors permanent", func(t *testing.T) {
		store := newTestQdrant(t, func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"status": map[string]any{"error": "bad id"}})
		})
		_, err := store.Retrieve(t.Context(), "c", []string{"not-a-uuid"})
		require.Error(t, err)
		assert.False(t, IsTransient(err))
		assert.Contains(t, err.Error(), "bad id")
	})
}
